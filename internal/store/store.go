// Package store persists the single conversation session as a key-value
// record. Every mutation is written through to the backend before it returns,
// and the in-memory copy only changes once the write succeeded.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
)

// StorageKey is the fixed key the session record is stored under.
const StorageKey = "chat-storage"

// ErrNotFound is returned by a Backend when the key has never been written.
var ErrNotFound = errors.New("record not found")

// Store is the contract the session controller depends on.
type Store interface {
	Get() chat.Session
	SetAssistantID(id string) error
	SetThreadID(id string) error
	AppendMessage(msg chat.Message) error
	Clear() error
}

// Backend is a durable key-value space.
type Backend interface {
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
	Close() error
}

// SessionStore owns the session record and mirrors it into a Backend.
type SessionStore struct {
	mu      sync.RWMutex
	backend Backend
	key     string
	session chat.Session
}

var _ Store = (*SessionStore)(nil)

// New restores the session from backend. A missing record yields an empty
// session rather than an error.
func New(backend Backend) (*SessionStore, error) {
	s := &SessionStore{backend: backend, key: StorageKey}

	raw, err := backend.Load(s.key)
	switch {
	case errors.Is(err, ErrNotFound):
		s.session = emptySession()
	case err != nil:
		return nil, fmt.Errorf("restore session: %w", err)
	default:
		session, err := decodeSession(raw)
		if err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		s.session = session
	}

	return s, nil
}

// Get returns a copy of the current session.
func (s *SessionStore) Get() chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// SetAssistantID records the assistant identifier.
func (s *SessionStore) SetAssistantID(id string) error {
	return s.mutate(func(session *chat.Session) {
		session.AssistantID = id
	})
}

// SetThreadID records the thread identifier.
func (s *SessionStore) SetThreadID(id string) error {
	return s.mutate(func(session *chat.Session) {
		session.ThreadID = id
	})
}

// AppendMessage adds msg at the end of the message log.
func (s *SessionStore) AppendMessage(msg chat.Message) error {
	return s.mutate(func(session *chat.Session) {
		session.Messages = append(session.Messages, msg)
	})
}

// Clear empties the message log and drops the thread id. The assistant id
// survives so the next conversation keeps the same assistant.
func (s *SessionStore) Clear() error {
	return s.mutate(func(session *chat.Session) {
		session.ThreadID = ""
		session.Messages = []chat.Message{}
	})
}

// Close releases the backend.
func (s *SessionStore) Close() error {
	return s.backend.Close()
}

func (s *SessionStore) mutate(apply func(session *chat.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.session.Clone()
	apply(&next)

	raw, err := encodeSession(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.backend.Save(s.key, raw); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.session = next
	return nil
}

func emptySession() chat.Session {
	return chat.Session{Messages: []chat.Message{}}
}
