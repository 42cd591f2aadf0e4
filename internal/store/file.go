package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// FileBackend keeps a JSON object of key -> serialized value in one file.
// Writes go to a temp file that is renamed over the original.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend prepares path's directory; the file itself is created on the
// first Save.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Load returns the value stored under key.
func (b *FileBackend) Load(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.readAll()
	if err != nil {
		return nil, err
	}
	value, ok := records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

// Save replaces the value under key, keeping other keys intact.
func (b *FileBackend) Save(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.readAll()
	if err != nil {
		return err
	}
	records[key] = string(value)

	data, err := sonic.ConfigStd.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	return b.writeAtomic(data)
}

// Close is a no-op; the file is not held open between calls.
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) readAll() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	records := map[string]string{}
	if len(data) == 0 {
		return records, nil
	}
	if err := sonic.ConfigStd.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode store file %s: %w", b.path, err)
	}
	return records, nil
}

func (b *FileBackend) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".store-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
