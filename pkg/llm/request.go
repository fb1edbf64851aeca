package llm

import (
	"bytes"
	"encoding/json"
)

// ChatRequest is the body accepted by the relay and handed to backends.
type ChatRequest struct {
	Model    string       `json:"model,omitempty"`
	Messages Conversation `json:"messages"`

	// Generation options
	Options *Options `json:"options,omitempty"`
}

// DecodeChatRequest parses and validates a relay request body. Non-JSON input,
// a missing "messages" key and messages of the wrong shape are reported as
// validation errors.
func DecodeChatRequest(body []byte) (*ChatRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ValidationError("request body is empty")
	}

	var raw struct {
		Model    string          `json:"model"`
		Messages json.RawMessage `json:"messages"`
		Options  *Options        `json:"options"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewError(CodeValidation, "invalid request body", err)
	}
	if len(raw.Messages) == 0 || bytes.Equal(raw.Messages, []byte("null")) {
		return nil, ValidationError("messages is required")
	}

	var msgs Conversation
	if err := json.Unmarshal(raw.Messages, &msgs); err != nil {
		return nil, NewError(CodeValidation, "messages must be an array of {role, content}", err)
	}
	if err := msgs.Validate(); err != nil {
		return nil, err
	}

	return &ChatRequest{
		Model:    raw.Model,
		Messages: msgs,
		Options:  raw.Options,
	}, nil
}
