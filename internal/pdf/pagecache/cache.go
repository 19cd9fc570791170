// Package pagecache keeps recently rendered page rasters so that repeated
// renders of the same document at the same viewport (reopening a document,
// restoring the screen view after a print) skip the rasterizer.
package pagecache

import (
	"fmt"
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
)

// DefaultCapacity is the number of rasters kept when none is configured.
const DefaultCapacity = 16

// Fingerprint identifies document bytes for use in Key.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Key names the raster of one page of a document rendered at a viewport.
func Key(fingerprint uint64, page int, vp raster.Viewport) string {
	return fmt.Sprintf("%016x/%d/%dx%d@%.6f", fingerprint, page, vp.BufferWidthPx, vp.BufferHeightPx, vp.Scale)
}

// Cache is a thread-safe least recently used cache of page rasters, bounded
// both by entry count and by total pixel bytes.
//
// Cached rasters are shared: callers must treat them as read-only.
type Cache struct {
	mutex    sync.Mutex
	capacity int
	maxBytes int64
	bytes    int64
	items    map[string]*cacheNode
	head     *cacheNode // Most recently used
	tail     *cacheNode // Least recently used
	hits     int64
	misses   int64
}

// cacheNode represents a node in the doubly-linked list
type cacheNode struct {
	key   string
	value *image.RGBA
	prev  *cacheNode
	next  *cacheNode
}

// Stats provides statistics about cache performance
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate_percent"`
	Size     int     `json:"current_size"`
	Capacity int     `json:"max_capacity"`
	Bytes    int64   `json:"bytes"`
}

// New creates a cache holding at most capacity rasters and maxBytes pixel
// bytes. A non-positive capacity selects DefaultCapacity; a non-positive
// maxBytes disables the byte bound.
func New(capacity int, maxBytes int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &Cache{
		capacity: capacity,
		maxBytes: maxBytes,
		items:    make(map[string]*cacheNode),
		head:     &cacheNode{},
		tail:     &cacheNode{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get retrieves a raster and marks it as recently used. A nil cache always
// misses.
func (c *Cache) Get(key string) (*image.RGBA, bool) {
	if c == nil {
		return nil, false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, exists := c.items[key]; exists {
		c.moveToFront(node)
		c.hits++
		return node.value, true
	}

	c.misses++
	return nil, false
}

// Put adds or replaces a raster. Rasters larger than the byte bound are not
// cached.
func (c *Cache) Put(key string, img *image.RGBA) {
	if c == nil || img == nil {
		return
	}
	size := int64(len(img.Pix))
	if c.maxBytes > 0 && size > c.maxBytes {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, exists := c.items[key]; exists {
		c.bytes += size - int64(len(node.value.Pix))
		node.value = img
		c.moveToFront(node)
	} else {
		node := &cacheNode{key: key, value: img}
		c.addToFront(node)
		c.items[key] = node
		c.bytes += size
	}

	for len(c.items) > c.capacity || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		c.evictLRU()
	}
}

// Len returns the current number of cached rasters
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.items)
}

// Clear removes all rasters and resets the counters
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*cacheNode)
	c.head.next = c.tail
	c.tail.prev = c.head
	c.bytes = 0
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics. A nil cache reports zeros.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  hitRate,
		Size:     len(c.items),
		Capacity: c.capacity,
		Bytes:    c.bytes,
	}
}

func (c *Cache) moveToFront(node *cacheNode) {
	c.removeNode(node)
	c.addToFront(node)
}

func (c *Cache) addToFront(node *cacheNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

func (c *Cache) removeNode(node *cacheNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (c *Cache) evictLRU() {
	lru := c.tail.prev
	if lru == c.head {
		return
	}
	c.removeNode(lru)
	delete(c.items, lru.key)
	c.bytes -= int64(len(lru.value.Pix))
}
