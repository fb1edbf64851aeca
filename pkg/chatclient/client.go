// Package chatclient consumes the relay's chat stream. A Client performs one
// exchange at a time; a Session keeps the conversation between turns and the
// transcript shown to the user.
package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

const maxFrameSize = 1024 * 1024

// Client talks to a relay.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenStore
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenStore attaches the bearer token sent with every request.
func WithTokenStore(ts *TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger used for per-chunk debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the relay at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends conv to the relay and calls onChunk with every text increment
// as it arrives. It returns the reason the stream ended. A nil error means the
// reply is complete; any other ending returns an error, possibly after some
// chunks were delivered.
func (c *Client) Stream(ctx context.Context, conv llm.Conversation, onChunk func(string)) (llm.DoneReason, error) {
	body, err := json.Marshal(llm.ChatRequest{Messages: conv})
	if err != nil {
		return "", fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return llm.DoneCanceled, ctx.Err()
		}
		return "", llm.BackendUnavailableError("relay unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	return c.read(ctx, resp.Body, onChunk)
}

func (c *Client) read(ctx context.Context, body io.Reader, onChunk func(string)) (llm.DoneReason, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk llm.StreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return llm.DoneInterrupted, llm.BackendInterruptedError("malformed frame", err)
		}

		if chunk.Done {
			reason := chunk.DoneReason
			if reason == "" {
				reason = llm.DoneStop
			}
			return reason, reasonError(reason)
		}

		if chunk.Message.Content != "" {
			c.logger.Debug("received chunk", zap.String("content", llm.Truncate(chunk.Message.Content, 50)))
			onChunk(chunk.Message.Content)
		}
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return llm.DoneTimeout, llm.TimeoutError(err)
		}
		return llm.DoneCanceled, err
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return llm.DoneInterrupted, llm.BackendInterruptedError("stream closed without end marker", err)
}

func reasonError(reason llm.DoneReason) error {
	switch reason {
	case llm.DoneStop:
		return nil
	case llm.DoneTimeout:
		return llm.TimeoutError(nil)
	case llm.DoneCanceled:
		return context.Canceled
	default:
		return llm.BackendInterruptedError("reply interrupted", nil)
	}
}

// decodeError turns a relay error reply into an *llm.Error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))

	var er llm.ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
		return llm.BackendUnavailableError(fmt.Sprintf("relay returned %d", resp.StatusCode), nil)
	}
	return llm.NewError(er.Code, er.Error, nil)
}
