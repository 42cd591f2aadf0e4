package assistant

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store exposes profile retrieval for the controller and HTTP handlers.
type Store interface {
	List() []Profile
	FindByID(id string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// List returns the configured profiles.
func (s *MemoryStore) List() []Profile {
	return append([]Profile(nil), s.items...)
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}

type profileFile struct {
	Assistants []Profile `toml:"assistants"`
}

// LoadFile reads profiles from a TOML file of [[assistants]] tables and merges
// them over the seeds; entries with a known id replace the seeded profile.
func LoadFile(path string, seeds []Profile) ([]Profile, error) {
	var file profileFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode assistants file %s: %w", path, err)
	}

	merged := append([]Profile(nil), seeds...)
	for _, p := range file.Assistants {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("assistants file %s: profile without id", path)
		}
		if strings.TrimSpace(p.Instructions) == "" {
			return nil, fmt.Errorf("assistants file %s: profile %q has no instructions", path, p.ID)
		}

		replaced := false
		for i := range merged {
			if merged[i].ID == p.ID {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	return merged, nil
}
