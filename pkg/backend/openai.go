package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// OpenAI streams from an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(baseURL, apiKey string, httpClient *http.Client, logger *zap.Logger) *OpenAI {
	return &OpenAI{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

type openAIRequest struct {
	Model         string         `json:"model"`
	Messages      []llm.Message  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Close() error { return nil }

func (o *OpenAI) Stream(ctx context.Context, req *llm.ChatRequest) (Stream, error) {
	payload := openAIRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if opts := req.Options; opts != nil {
		payload.Temperature = opts.Temperature
		payload.TopP = opts.TopP
		payload.MaxTokens = opts.MaxTokens
		payload.Stop = opts.Stop
	}

	headers := map[string]string{"Accept": "text/event-stream"}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}

	url := o.baseURL + "/v1/chat/completions"
	o.logger.Debug("opening upstream stream", zap.String("url", url), zap.String("model", req.Model))

	hs, err := postStream(ctx, o.httpClient, url, headers, payload)
	if err != nil {
		return nil, err
	}
	return &openAIStream{httpStream: hs, dec: newSSEDecoder(hs.body), model: req.Model, logger: o.logger}, nil
}

type openAIStream struct {
	*httpStream
	dec    *sseDecoder
	model  string
	usage  *llm.Usage
	logger *zap.Logger
}

func (s *openAIStream) Recv() (llm.StreamChunk, error) {
	if err := s.next(); err != nil {
		return llm.StreamChunk{}, err
	}

	for {
		data, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return llm.StreamChunk{}, s.unterminated()
			}
			return llm.StreamChunk{}, s.readErr(err)
		}

		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) {
			s.finished = true
			return llm.DoneChunk(s.model, llm.DoneStop, s.usage), nil
		}

		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.logger.Warn("failed to parse chunk", zap.Error(err), zap.String("data", llm.Truncate(string(data), 200)))
			continue
		}
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		if chunk.Usage != nil {
			s.usage = &llm.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		return llm.TextChunk(s.model, chunk.Choices[0].Delta.Content), nil
	}
}
