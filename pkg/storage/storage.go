package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("stored file not found")

// FileStore is the narrow contract the import pipeline has on the upload
// service: write bytes and get a handle back, read bytes by handle, delete.
type FileStore interface {
	Write(ctx context.Context, name string, data []byte) (handle string, err error)
	Read(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// LocalFileStore keeps uploads on the local filesystem under a base dir.
type LocalFileStore struct {
	baseDir string
}

func NewLocalFileStore(baseDir string) *LocalFileStore {
	return &LocalFileStore{baseDir: baseDir}
}

func (s *LocalFileStore) Write(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	handle := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	if err := os.WriteFile(filepath.Join(s.baseDir, handle), data, 0o644); err != nil {
		return "", err
	}
	return handle, nil
}

func (s *LocalFileStore) Read(_ context.Context, handle string) ([]byte, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalFileStore) Delete(_ context.Context, handle string) error {
	if err := validateHandle(handle); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, handle)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryFileStore keeps uploads in process memory. Used in tests.
type MemoryFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string][]byte)}
}

func (s *MemoryFileStore) Write(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := fmt.Sprintf("%s%s", uuid.New().String(), filepath.Ext(name))
	s.files[handle] = append([]byte(nil), data...)
	return handle, nil
}

func (s *MemoryFileStore) Read(_ context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryFileStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, handle)
	return nil
}

func validateHandle(handle string) error {
	if handle == "" || strings.Contains(handle, "/") || strings.Contains(handle, "..") {
		return fmt.Errorf("invalid file handle: %q", handle)
	}
	return nil
}
