package cache

import (
	"sync"
	"time"

	"nbsplayer/pkg/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SongCache keeps decoded songs keyed by the hash of their file contents.
// Entries expire after ttl and the least recently used entry is evicted once
// maxEntries is reached. A zero ttl or maxEntries disables that limit.
type SongCache struct {
	lru *expirable.LRU[string, *models.Song]

	mutex        sync.Mutex
	hits, misses int
	evictions    int
}

// Stats reports cache usage.
type Stats struct {
	Entries   int `json:"entries"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
}

// NewSongCache creates a new song cache
func NewSongCache(ttl time.Duration, maxEntries int) *SongCache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	cache := &SongCache{}
	cache.lru = expirable.NewLRU[string, *models.Song](maxEntries, cache.onEvict, ttl)
	return cache
}

// onEvict runs with the LRU's lock held for expired and displaced entries.
func (c *SongCache) onEvict(string, *models.Song) {
	c.mutex.Lock()
	c.evictions++
	c.mutex.Unlock()
}

// Set stores a song in the cache
func (c *SongCache) Set(key string, song *models.Song) {
	c.lru.Add(key, song)
}

// Get retrieves a song from the cache
func (c *SongCache) Get(key string) (*models.Song, bool) {
	song, ok := c.lru.Get(key)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return song, ok
}

// Delete removes a song from the cache
func (c *SongCache) Delete(key string) {
	c.lru.Remove(key)
}

// Clear removes all items from the cache
func (c *SongCache) Clear() {
	c.lru.Purge()
}

// Size returns the number of items in the cache, including expired items
// not yet swept.
func (c *SongCache) Size() int {
	return c.lru.Len()
}

// Stats returns the entry count and hit/miss counters
func (c *SongCache) Stats() Stats {
	entries := c.lru.Len()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{Entries: entries, Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// Close drops every cached song.
func (c *SongCache) Close() {
	c.lru.Purge()
}
