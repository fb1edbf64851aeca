// Package backend provides streaming clients for hosted completion APIs.
//
// Every backend turns a conversation into a lazy, finite, non-restartable
// Stream of llm.StreamChunk values. A stream yields text chunks in the order
// the provider produced them, then exactly one chunk with Done set, then
// io.EOF. A transport that ends without the provider's explicit end marker
// surfaces as an llm.CodeBackendInterrupted error instead.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/config"
	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("backend: stream closed")

// Backend opens completion streams against a provider.
type Backend interface {
	// Name identifies the provider in logs and archived turns.
	Name() string

	// Stream starts a completion for req. The returned Stream owns one
	// upstream connection until Close is called; cancelling ctx also
	// releases it.
	Stream(ctx context.Context, req *llm.ChatRequest) (Stream, error)

	// Close releases provider clients held by the backend.
	Close() error
}

// Stream is one in-flight completion.
type Stream interface {
	Recv() (llm.StreamChunk, error)

	// Close releases the upstream connection. It is idempotent.
	Close() error
}

// New builds the backend selected by cfg.Provider. The demo backend is only
// available when demo mode is enabled.
func New(cfg config.Backend, demo config.Demo, logger *zap.Logger) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.URL, cfg.APIKey, newHTTPClient(cfg.ConnectTimeout.Duration), logger), nil
	case config.ProviderOllama:
		return NewOllama(cfg.URL, newHTTPClient(cfg.ConnectTimeout.Duration), logger), nil
	case config.ProviderGemini:
		return NewGemini(context.Background(), cfg.APIKey, logger)
	case config.ProviderDemo:
		if !demo.Enabled {
			return nil, errors.New("demo backend requires demo mode")
		}
		return NewDemo(DefaultDemoDelay), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// newHTTPClient bounds connection setup only. The body of a streaming
// response is bounded by the caller's context.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// classify maps a transport error to the relay taxonomy. started reports
// whether the provider had accepted the request.
func classify(ctx context.Context, err error, started bool, reason string) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return llm.TimeoutError(err)
	}
	if started {
		return llm.BackendInterruptedError(reason, err)
	}
	return llm.BackendUnavailableError(reason, err)
}
