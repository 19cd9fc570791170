package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]BlobStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	out := map[string]BlobStore{
		"file":   fs,
		"memory": NewMemoryStore(),
	}

	if addr := os.Getenv("MCP_PDF_TEST_REDIS"); addr != "" {
		rs, err := NewRedisStore(context.Background(), addr, "", 0, time.Minute)
		require.NoError(t, err)
		t.Cleanup(func() { _ = rs.Close() })
		out["redis"] = rs
	}
	return out
}

func TestBlobStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	data := []byte("%PDF-1.7 fake document")
	meta := Meta{
		Filename:   "CTR_2025-07-01_C12.pdf",
		Kind:       "signed",
		Date:       "2025-07-01",
		CrewNumber: "C12",
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.Store(ctx, data, meta)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, gotMeta, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			want := meta
			want.Size = len(data)
			want.ContentType = "application/pdf"
			if diff := cmp.Diff(want, *gotMeta, cmpopts.IgnoreFields(Meta{}, "CreatedAt")); diff != "" {
				t.Errorf("meta mismatch (-want +got):\n%s", diff)
			}
			assert.False(t, gotMeta.CreatedAt.IsZero())

			require.NoError(t, s.Delete(ctx, id))
			_, _, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
		})
	}
}

func TestBlobStore_UnknownAndInvalidIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "../../etc/passwd", "5f0c8c7e-0000-4000-8000-000000000000"} {
				_, _, err := s.Get(ctx, id)
				assert.ErrorIs(t, err, ErrNotFound, id)
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	id, err := s.Store(context.Background(), []byte("x"), Meta{Filename: "a.pdf"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{id + ".pdf", id + ".json"}, names, "no temp files are left behind")

	require.NoError(t, os.Remove(filepath.Join(dir, id+".json")))
	_, meta, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id+".pdf", meta.Filename)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Options{Backend: "s3"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)
}

func TestMemoryStore_CopiesData(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("abc")
	id, err := s.Store(context.Background(), data, Meta{})
	require.NoError(t, err)
	data[0] = 'z'

	got, _, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, 1, s.Len())
}
