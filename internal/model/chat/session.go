package chat

// Session captures the persisted identifiers and message log of one logical
// conversation. Empty identifiers mean "not assigned yet".
type Session struct {
	AssistantID string    `json:"assistantId"`
	ThreadID    string    `json:"threadId"`
	Messages    []Message `json:"messages"`
}

// Initialized reports whether both identifiers have been assigned.
func (s Session) Initialized() bool {
	return s.AssistantID != "" && s.ThreadID != ""
}

// Clone returns a deep copy so callers cannot mutate the owner's message log.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
