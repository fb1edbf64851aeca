package llm

// ConversationTurn is a completed exchange: the conversation sent by the
// client and the assistant message the backend produced for it.
type ConversationTurn struct {
	Model    string       `json:"model"`
	Backend  string       `json:"backend"`
	Request  Conversation `json:"request"`
	Response Message      `json:"response"`
	Usage    *Usage       `json:"usage,omitempty"`
}
