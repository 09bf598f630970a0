package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const cacheFileName = "session_cache.json"

type fileBackend struct {
	path string
}

// NewFileStore keeps the session in <dir>/session_cache.json, creating dir
// if needed.
func NewFileStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return newStore(&fileBackend{path: filepath.Join(dir, cacheFileName)}, opts...), nil
}

func (b *fileBackend) name() string {
	return "file"
}

func (b *fileBackend) read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotFound
	}
	return data, err
}

func (b *fileBackend) write(_ context.Context, payload []byte, _ time.Time) error {
	return os.WriteFile(b.path, payload, 0o600)
}

func (b *fileBackend) remove(_ context.Context) error {
	err := os.Remove(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
