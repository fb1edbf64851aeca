package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// maxLineSize bounds a single NDJSON line from the provider.
const maxLineSize = 1 << 20

// Ollama streams from an Ollama /api/chat endpoint.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllama creates an Ollama backend.
func NewOllama(baseURL string, httpClient *http.Client, logger *zap.Logger) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChunk struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   llm.Message `json:"message"`
	Done      bool        `json:"done"`
	Error     string      `json:"error"`

	// Final chunk includes metrics
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Close() error { return nil }

func (o *Ollama) Stream(ctx context.Context, req *llm.ChatRequest) (Stream, error) {
	payload := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	}
	if opts := req.Options; opts != nil {
		payload.Options = &ollamaOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.Stop,
		}
	}

	url := o.baseURL + "/api/chat"
	o.logger.Debug("opening upstream stream", zap.String("url", url), zap.String("model", req.Model))

	hs, err := postStream(ctx, o.httpClient, url, nil, payload)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(hs.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ollamaStream{httpStream: hs, scanner: scanner, logger: o.logger}, nil
}

type ollamaStream struct {
	*httpStream
	scanner *bufio.Scanner
	logger  *zap.Logger

	// done holds the terminal chunk while the text it carried is delivered
	done *llm.StreamChunk
}

func (s *ollamaStream) Recv() (llm.StreamChunk, error) {
	if s.done != nil && !s.closed {
		final := *s.done
		s.done = nil
		s.finished = true
		return final, nil
	}
	if err := s.next(); err != nil {
		return llm.StreamChunk{}, err
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.logger.Warn("failed to parse chunk", zap.Error(err), zap.String("line", llm.Truncate(string(line), 200)))
			continue
		}
		if chunk.Error != "" {
			return llm.StreamChunk{}, llm.BackendInterruptedError("upstream reported error", errors.New(chunk.Error))
		}

		if chunk.Done {
			final := llm.DoneChunk(chunk.Model, llm.DoneStop, &llm.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
			})
			if chunk.Message.Content == "" {
				s.finished = true
				return final, nil
			}
			s.done = &final
		} else if chunk.Message.Content == "" {
			continue
		}

		return llm.StreamChunk{
			Model:     chunk.Model,
			CreatedAt: chunk.CreatedAt,
			Message:   llm.Message{Role: llm.RoleAssistant, Content: chunk.Message.Content},
		}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return llm.StreamChunk{}, s.readErr(err)
	}
	return llm.StreamChunk{}, s.unterminated()
}
