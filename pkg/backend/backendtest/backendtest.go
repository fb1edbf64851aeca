// Package backendtest provides scripted backends for exercising the relay and
// its clients without a provider.
package backendtest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/staffdesk/pkg/backend"
	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// Scripted replays a fixed list of chunks for every request.
type Scripted struct {
	Chunks []string

	// Delay is waited before each chunk.
	Delay time.Duration

	// OpenErr fails Stream itself.
	OpenErr error

	// End replaces the end-of-stream marker after the chunks.
	End error

	// Hang blocks after the chunks until the stream's context is done.
	Hang bool

	calls   atomic.Int32
	mu      sync.Mutex
	streams []*ScriptedStream
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Close() error { return nil }

func (s *Scripted) Stream(ctx context.Context, req *llm.ChatRequest) (backend.Stream, error) {
	s.calls.Add(1)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := newStream(ctx, s.Chunks, s.Delay, s.End, s.Hang)
	st.Request = req

	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

// Calls is the number of Stream invocations.
func (s *Scripted) Calls() int { return int(s.calls.Load()) }

// Streams returns every stream opened so far.
func (s *Scripted) Streams() []*ScriptedStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ScriptedStream(nil), s.streams...)
}

// Echo streams the last message of each conversation back one rune at a time.
type Echo struct {
	Delay time.Duration
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Close() error { return nil }

func (e *Echo) Stream(ctx context.Context, req *llm.ChatRequest) (backend.Stream, error) {
	last, _ := req.Messages.Last()
	var chunks []string
	for _, r := range last.Content {
		chunks = append(chunks, string(r))
	}
	st := newStream(ctx, chunks, e.Delay, nil, false)
	st.Request = req
	return st, nil
}

// ScriptedStream is one replay. It records whether it was released.
type ScriptedStream struct {
	Request *llm.ChatRequest

	ctx    context.Context
	chunks []string
	delay  time.Duration
	end    error
	hang   bool

	pos      int
	finished bool
	closed   atomic.Bool
}

func newStream(ctx context.Context, chunks []string, delay time.Duration, end error, hang bool) *ScriptedStream {
	return &ScriptedStream{ctx: ctx, chunks: chunks, delay: delay, end: end, hang: hang}
}

func (s *ScriptedStream) Recv() (llm.StreamChunk, error) {
	if s.closed.Load() {
		return llm.StreamChunk{}, backend.ErrStreamClosed
	}
	if s.finished {
		return llm.StreamChunk{}, io.EOF
	}

	if s.pos < len(s.chunks) {
		if err := s.wait(s.delay); err != nil {
			return llm.StreamChunk{}, err
		}
		text := s.chunks[s.pos]
		s.pos++
		return llm.TextChunk("scripted-model", text), nil
	}

	if s.hang {
		<-s.ctx.Done()
		return llm.StreamChunk{}, s.ctxErr()
	}
	if s.end != nil {
		return llm.StreamChunk{}, s.end
	}
	s.finished = true
	return llm.DoneChunk("scripted-model", llm.DoneStop, &llm.Usage{CompletionTokens: len(s.chunks)}), nil
}

func (s *ScriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether the consumer released the stream.
func (s *ScriptedStream) Closed() bool { return s.closed.Load() }

// ContextDone reports whether the stream's context was cancelled.
func (s *ScriptedStream) ContextDone() bool { return s.ctx.Err() != nil }

func (s *ScriptedStream) wait(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-s.ctx.Done():
		return s.ctxErr()
	case <-time.After(d):
		return nil
	}
}

func (s *ScriptedStream) ctxErr() error {
	if s.ctx.Err() == context.DeadlineExceeded {
		return llm.TimeoutError(s.ctx.Err())
	}
	return llm.BackendInterruptedError("stream canceled", s.ctx.Err())
}
