package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// Gemini streams from Google's Gemini API through the generative-ai-go SDK.
type Gemini struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGemini creates a Gemini backend with a process-wide SDK client.
func NewGemini(ctx context.Context, apiKey string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini backend requires an API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, logger: logger}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) Stream(ctx context.Context, req *llm.ChatRequest) (Stream, error) {
	system, history, last, err := geminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(req.Model)
	applyGeminiOptions(model, req.Options)
	if system != nil {
		model.SystemInstruction = system
	}

	ctx, cancel := context.WithCancel(ctx)
	cs := model.StartChat()
	cs.History = history

	g.logger.Debug("opening gemini stream", zap.String("model", req.Model), zap.Int("history", len(history)))

	return &geminiStream{
		ctx:    ctx,
		cancel: cancel,
		iter:   cs.SendMessageStream(ctx, last...),
		model:  req.Model,
	}, nil
}

// geminiContents splits a conversation into the system instruction, the chat
// history and the parts of the final message. Gemini calls the assistant role
// "model" and has no system role inside the history.
func geminiContents(msgs llm.Conversation) (*genai.Content, []*genai.Content, []genai.Part, error) {
	var system []string
	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(contents) == 0 {
		return nil, nil, nil, llm.ValidationError("gemini requires at least one user or assistant message")
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		// The chat session always sends the new message as the user.
		return nil, nil, nil, llm.ValidationError("gemini requires the conversation to end with a user message")
	}
	return instruction, contents[:len(contents)-1], last.Parts, nil
}

func applyGeminiOptions(model *genai.GenerativeModel, opts *llm.Options) {
	if opts == nil {
		return
	}
	if opts.Temperature != nil {
		model.SetTemperature(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		model.SetTopP(float32(*opts.TopP))
	}
	if opts.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*opts.MaxTokens))
	}
	if len(opts.Stop) > 0 {
		model.StopSequences = opts.Stop
	}
}

// geminiIterator is the part of *genai.GenerateContentResponseIterator the
// stream reads.
type geminiIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

type geminiStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	iter   geminiIterator
	model  string

	closeOnce sync.Once
	closed    bool
	started   bool
	finished  bool
	usage     *llm.Usage
}

func (s *geminiStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, ErrStreamClosed
	}

	for !s.finished {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.finished = true
			return llm.DoneChunk(s.model, llm.DoneStop, s.usage), nil
		}
		if err != nil {
			return llm.StreamChunk{}, classify(s.ctx, err, s.started, "gemini stream failed")
		}
		s.started = true

		if resp.UsageMetadata != nil {
			s.usage = &llm.Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if text := geminiText(resp); text != "" {
			return llm.TextChunk(s.model, text), nil
		}
	}
	return llm.StreamChunk{}, io.EOF
}

func (s *geminiStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancel()
	})
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String()
}
