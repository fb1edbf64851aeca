package llm

import (
	"strings"
	"unicode/utf8"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the fixed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered, chronological list of messages. It is the whole
// state of a chat exchange: clients resend it in full on every turn.
type Conversation []Message

// Validate checks that the conversation is non-empty and that every message
// has a recognized role.
func (c Conversation) Validate() error {
	if len(c) == 0 {
		return ValidationError("messages must be a non-empty array")
	}
	for i, m := range c {
		if m.Role == "" {
			return ValidationError("messages[%d]: role is required", i)
		}
		if !m.Role.Valid() {
			return ValidationError("messages[%d]: unrecognized role %q", i, m.Role)
		}
	}
	return nil
}

// Last returns the final message, or false for an empty conversation.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Title is a short, single-line label for the conversation taken from its
// first user message.
func (c Conversation) Title(maxLen int) string {
	for _, m := range c {
		if m.Role == RoleUser {
			return Truncate(m.Content, maxLen)
		}
	}
	return "Untitled conversation"
}

// Truncate flattens newlines and cuts s to at most maxLen bytes, appending
// "...". The cut never splits a rune.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
