package pagecache

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
)

func rgba(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestCache_Basic(t *testing.T) {
	cache := New(3, 0)

	a, b, c, d := rgba(1, 1), rgba(1, 1), rgba(1, 1), rgba(1, 1)
	cache.Put("a", a)
	cache.Put("b", b)
	cache.Put("c", c)

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	// "b" is now least recently used and is evicted by "d".
	cache.Put("d", d)
	assert.Equal(t, 3, cache.Len())
	_, ok = cache.Get("b")
	assert.False(t, ok)
	for _, key := range []string{"a", "c", "d"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, key)
	}
}

func TestCache_ByteBound(t *testing.T) {
	// 10x10 RGBA is 400 bytes.
	cache := New(10, 1000)

	cache.Put("a", rgba(10, 10))
	cache.Put("b", rgba(10, 10))
	assert.Equal(t, int64(800), cache.Stats().Bytes)

	cache.Put("c", rgba(10, 10))
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, int64(800), cache.Stats().Bytes)
	_, ok := cache.Get("a")
	assert.False(t, ok)

	// Too large to cache at all.
	cache.Put("huge", rgba(20, 20))
	_, ok = cache.Get("huge")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	// Replacing an entry adjusts the byte count.
	cache.Put("b", rgba(5, 5))
	assert.Equal(t, int64(500), cache.Stats().Bytes)
}

func TestCache_Stats(t *testing.T) {
	cache := New(2, 0)
	cache.Put("a", rgba(1, 1))

	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 66.67, stats.HitRate, 0.01)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 2, stats.Capacity)

	cache.Clear()
	assert.Equal(t, Stats{Capacity: 2}, cache.Stats())
}

func TestCache_Nil(t *testing.T) {
	var cache *Cache
	cache.Put("a", rgba(1, 1))
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, cache.Stats())
}

func TestKey(t *testing.T) {
	vp, err := raster.FixedViewport(612, 792, 2)
	require.NoError(t, err)

	fp := Fingerprint([]byte("%PDF-1.7"))
	assert.Equal(t, fp, Fingerprint([]byte("%PDF-1.7")))
	assert.NotEqual(t, fp, Fingerprint([]byte("%PDF-1.4")))

	key := Key(fp, 1, vp)
	assert.Contains(t, key, "/1/1224x1584@2.000000")
	assert.NotEqual(t, key, Key(fp, 2, vp))
	assert.Equal(t, New(0, 0).Stats().Capacity, DefaultCapacity)
}
