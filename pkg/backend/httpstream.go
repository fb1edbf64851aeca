package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// httpStream owns a streaming HTTP response and the context that bounds it.
type httpStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	closeOnce sync.Once
	closed    bool

	// finished is set once the end marker was seen
	finished bool
}

// postStream sends a JSON POST and returns the open response once the
// provider answered 200. Any other status is reported as unavailable with the
// provider's body in the reason.
func postStream(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (*httpStream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classify(ctx, err, false, "upstream request failed")
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, classify(ctx, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg)), false, "upstream error")
	}

	return &httpStream{ctx: ctx, cancel: cancel, body: resp.Body}, nil
}

// next guards Recv: it reports closed and exhausted streams.
func (s *httpStream) next() error {
	if s.closed {
		return ErrStreamClosed
	}
	if s.finished {
		return io.EOF
	}
	return nil
}

func (s *httpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// readErr classifies an error from the response body.
func (s *httpStream) readErr(err error) error {
	return classify(s.ctx, err, true, "stream read failed")
}

// unterminated is returned when the body ends before the end marker.
func (s *httpStream) unterminated() error {
	return s.readErr(io.ErrUnexpectedEOF)
}
