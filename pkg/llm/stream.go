package llm

import "time"

// DoneReason explains why a stream ended.
type DoneReason string

const (
	DoneStop        DoneReason = "stop"
	DoneTimeout     DoneReason = "timeout"
	DoneInterrupted DoneReason = "interrupted"
	DoneCanceled    DoneReason = "canceled"
)

// Complete reports whether the reason denotes a full answer.
func (r DoneReason) Complete() bool { return r == DoneStop }

// StreamChunk represents a single chunk in a streaming response. Text chunks
// carry a fragment of the assistant message; the final chunk has Done set.
type StreamChunk struct {
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`

	// Only present on the final chunk
	DoneReason DoneReason `json:"done_reason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// TextChunk builds an assistant text chunk.
func TextChunk(model, text string) StreamChunk {
	return StreamChunk{
		Model:     model,
		CreatedAt: time.Now().UTC(),
		Message:   Message{Role: RoleAssistant, Content: text},
	}
}

// DoneChunk builds a terminal chunk.
func DoneChunk(model string, reason DoneReason, usage *Usage) StreamChunk {
	return StreamChunk{
		Model:      model,
		CreatedAt:  time.Now().UTC(),
		Message:    Message{Role: RoleAssistant},
		Done:       true,
		DoneReason: reason,
		Usage:      usage,
	}
}

// DoneReasonFor maps a stream error to the reason reported to callers.
func DoneReasonFor(err error) DoneReason {
	switch CodeOf(err) {
	case "":
		return DoneStop
	case CodeTimeout:
		return DoneTimeout
	default:
		return DoneInterrupted
	}
}
