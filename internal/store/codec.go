package store

import (
	"github.com/bytedance/sonic"

	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
)

// record is the on-disk layout: flat and unversioned.
type record struct {
	AssistantID *string        `json:"assistantId"`
	ThreadID    *string        `json:"threadId"`
	Messages    []chat.Message `json:"messages"`
}

func encodeSession(session chat.Session) ([]byte, error) {
	rec := record{
		AssistantID: optional(session.AssistantID),
		ThreadID:    optional(session.ThreadID),
		Messages:    session.Messages,
	}
	if rec.Messages == nil {
		rec.Messages = []chat.Message{}
	}
	return sonic.ConfigStd.Marshal(rec)
}

func decodeSession(raw []byte) (chat.Session, error) {
	var rec record
	if err := sonic.ConfigStd.Unmarshal(raw, &rec); err != nil {
		return chat.Session{}, err
	}

	session := emptySession()
	if rec.AssistantID != nil {
		session.AssistantID = *rec.AssistantID
	}
	if rec.ThreadID != nil {
		session.ThreadID = *rec.ThreadID
	}
	if rec.Messages != nil {
		session.Messages = rec.Messages
	}
	return session, nil
}

// optional maps "unassigned" to JSON null.
func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
