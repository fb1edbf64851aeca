package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

// EntryState is the lifecycle state of a transcript entry.
type EntryState string

const (
	EntryStreaming EntryState = "streaming"
	EntryComplete  EntryState = "complete"
	EntryPartial   EntryState = "partial"
)

// Entry is one message as shown to the user.
type Entry struct {
	Role    llm.Role
	Content string
	State   EntryState
}

// ErrBusy is returned by Send while a previous reply is still streaming.
var ErrBusy = errors.New("a reply is still streaming")

// Session keeps a conversation across turns. The whole conversation is resent
// with every message; the relay keeps nothing between requests.
type Session struct {
	client   *Client
	onUpdate func(Entry)

	mu         sync.Mutex
	conv       llm.Conversation
	transcript []Entry
	busy       bool
}

// NewSession creates a Session. onUpdate, when not nil, is called with the
// assistant entry after every chunk and once more when the entry settles.
func NewSession(client *Client, onUpdate func(Entry)) *Session {
	return &Session{client: client, onUpdate: onUpdate}
}

// Send adds text as a user message and streams the reply into a new assistant
// entry. When the reply ends early the entry keeps what arrived, is marked
// partial and stays part of the conversation; the error is returned. When the
// request fails before any chunk no assistant entry is created.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return llm.ValidationError("message is empty")
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	msg := llm.Message{Role: llm.RoleUser, Content: text}
	s.conv = append(s.conv, msg)
	s.transcript = append(s.transcript, Entry{Role: llm.RoleUser, Content: text, State: EntryComplete})
	conv := append(llm.Conversation(nil), s.conv...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	entry := -1
	_, err := s.client.Stream(ctx, conv, func(chunk string) {
		s.mu.Lock()
		if entry < 0 {
			s.transcript = append(s.transcript, Entry{Role: llm.RoleAssistant, State: EntryStreaming})
			entry = len(s.transcript) - 1
		}
		s.transcript[entry].Content += chunk
		e := s.transcript[entry]
		s.mu.Unlock()

		s.notify(e)
	})

	s.mu.Lock()
	if entry < 0 {
		if err == nil {
			// An empty but complete reply still closes the turn.
			s.transcript = append(s.transcript, Entry{Role: llm.RoleAssistant, State: EntryComplete})
			entry = len(s.transcript) - 1
		} else {
			s.mu.Unlock()
			return err
		}
	}

	if err == nil {
		s.transcript[entry].State = EntryComplete
	} else {
		s.transcript[entry].State = EntryPartial
	}
	e := s.transcript[entry]
	s.conv = append(s.conv, llm.Message{Role: llm.RoleAssistant, Content: e.Content})
	s.mu.Unlock()

	s.notify(e)
	return err
}

func (s *Session) notify(e Entry) {
	if s.onUpdate != nil {
		s.onUpdate(e)
	}
}

// Busy reports whether a reply is streaming.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Transcript returns a copy of the entries shown so far.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.transcript...)
}

// Conversation returns a copy of the messages resent on the next turn.
func (s *Session) Conversation() llm.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(llm.Conversation(nil), s.conv...)
}

// Reset starts a new conversation. It fails while a reply is streaming.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.conv = nil
	s.transcript = nil
	return nil
}
