package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// DefaultDemoDelay paces demo words roughly like a hosted model.
const DefaultDemoDelay = 40 * time.Millisecond

// Demo is a local backend that streams a canned reply word by word. It never
// contacts the network and only exists when demo mode is enabled.
type Demo struct {
	delay time.Duration
}

// NewDemo creates a demo backend that waits delay between words.
func NewDemo(delay time.Duration) *Demo {
	return &Demo{delay: delay}
}

func (d *Demo) Name() string { return "demo" }

func (d *Demo) Close() error { return nil }

func (d *Demo) Stream(ctx context.Context, req *llm.ChatRequest) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &demoStream{
		ctx:    ctx,
		cancel: cancel,
		delay:  d.delay,
		model:  req.Model,
		words:  splitWords(DemoReply(req.Messages)),
	}, nil
}

// DemoReply is the canned answer for a conversation.
func DemoReply(conv llm.Conversation) string {
	question := "your question"
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == llm.RoleUser {
			question = fmt.Sprintf("%q", llm.Truncate(conv[i].Content, 80))
			break
		}
	}
	return "This is a demo reply. No language model is connected, so I can only tell you that I received " +
		question + " as part of a conversation of " + fmt.Sprint(len(conv)) + " messages."
}

// splitWords splits s into words that keep their trailing space so the
// concatenation of all words equals s.
func splitWords(s string) []string {
	var words []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			words = append(words, s)
			break
		}
		words = append(words, s[:i+1])
		s = s[i+1:]
	}
	return words
}

type demoStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	delay  time.Duration
	model  string
	words  []string

	closeOnce sync.Once
	closed    bool
	finished  bool
}

func (s *demoStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, ErrStreamClosed
	}
	if s.finished {
		return llm.StreamChunk{}, io.EOF
	}

	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return llm.StreamChunk{}, classify(s.ctx, s.ctx.Err(), true, "demo stream canceled")
		case <-time.After(s.delay):
		}
	}

	if len(s.words) == 0 {
		s.finished = true
		return llm.DoneChunk(s.model, llm.DoneStop, nil), nil
	}
	word := s.words[0]
	s.words = s.words[1:]
	return llm.TextChunk(s.model, word), nil
}

func (s *demoStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancel()
	})
	return nil
}
