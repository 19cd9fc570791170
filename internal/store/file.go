package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps each document as <id>.pdf with a <id>.json metadata
// sidecar.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Store writes data and meta and returns the new identifier.
func (s *FileStore) Store(ctx context.Context, data []byte, meta Meta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := newID()
	meta = stamp(meta, len(data))

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := writeFileAtomic(s.dataPath(id), data); err != nil {
		return "", err
	}
	if err := writeFileAtomic(s.metaPath(id), metaBytes); err != nil {
		_ = os.Remove(s.dataPath(id))
		return "", err
	}
	return id, nil
}

// Get reads a stored document.
func (s *FileStore) Get(ctx context.Context, id string) ([]byte, *Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := validID(id); err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(s.dataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document: %w", err)
	}

	var meta Meta
	metaBytes, err := os.ReadFile(s.metaPath(id))
	switch {
	case errors.Is(err, os.ErrNotExist):
		meta = stamp(Meta{Filename: id + ".pdf"}, len(data))
	case err != nil:
		return nil, nil, fmt.Errorf("failed to read metadata: %w", err)
	default:
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return data, &meta, nil
}

// Delete removes a stored document. Deleting an unknown id returns
// ErrNotFound.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}
	err := os.Remove(s.dataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) dataPath(id string) string { return filepath.Join(s.dir, id+".pdf") }
func (s *FileStore) metaPath(id string) string { return filepath.Join(s.dir, id+".json") }

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
