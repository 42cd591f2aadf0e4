package chat

// Message is one entry of the conversation log. Messages are immutable once
// created and kept in insertion order.
type Message struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	IsUser      bool   `json:"isUser"`
	Translation string `json:"translation,omitempty"`
}

// Reply is the assistant side of a completed turn.
type Reply struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
}
