package store

import (
	"fmt"
	"log"
)

// Config selects and locates the backend.
type Config struct {
	Driver string // file, sqlite or postgres
	Path   string // file driver
	DSN    string // sql drivers
}

// Open builds the backend described by cfg and restores the session from it.
func Open(cfg Config) (*SessionStore, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Driver {
	case "", "file":
		backend, err = NewFileBackend(cfg.Path)
	case "sqlite", "postgres":
		backend, err = NewGormBackend(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s, err := New(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	session := s.Get()
	log.Printf("[store] restored session driver=%s messages=%d thread=%q", cfg.Driver, len(session.Messages), session.ThreadID)
	return s, nil
}
