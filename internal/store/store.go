// Package store keeps document bytes keyed by an opaque identifier.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an identifier is unknown.
var ErrNotFound = errors.New("store: document not found")

// Meta describes a stored document.
type Meta struct {
	Filename    string    `json:"filename"`
	Kind        string    `json:"kind,omitempty"`
	Date        string    `json:"date,omitempty"`
	CrewNumber  string    `json:"crew_number,omitempty"`
	FireName    string    `json:"fire_name,omitempty"`
	FireNumber  string    `json:"fire_number,omitempty"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is an opaque document byte store.
type BlobStore interface {
	Store(ctx context.Context, data []byte, meta Meta) (string, error)
	Get(ctx context.Context, id string) ([]byte, *Meta, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend       string // "file", "redis" or "memory"
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Open creates the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (BlobStore, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Dir)
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.TTL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func newID() string {
	return uuid.NewString()
}

// validID rejects identifiers that were not issued by newID, which keeps
// caller-supplied ids out of file paths and key names.
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return nil
}

func stamp(meta Meta, size int) Meta {
	meta.Size = size
	if meta.ContentType == "" {
		meta.ContentType = "application/pdf"
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return meta
}
