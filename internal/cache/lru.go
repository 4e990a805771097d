package cache

import (
	"container/list"
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// LRUCache is an in-process Store with TTL and size-based eviction.
type LRUCache struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	items      map[string]*list.Element
	lru        *list.List

	cursors   map[uint64]string
	cursorSeq uint64
}

// maxOpenCursors bounds the scans that may be in flight at once; abandoned
// cursors are dropped when it is reached.
const maxOpenCursors = 1024

type cacheItem struct {
	key       string
	data      []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache. defaultTTL applies when Set is called
// with a non-positive TTL.
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	return &LRUCache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		cursors:    make(map[uint64]string),
	}
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return nil, false, nil
	}

	item := elem.Value.(*cacheItem)
	if time.Now().After(item.expiresAt) {
		c.removeElement(elem)
		return nil, false, nil
	}

	c.lru.MoveToFront(elem)
	return append([]byte(nil), item.data...), true, nil
}

// Set stores a value in the cache
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	item := &cacheItem{
		key:       key,
		data:      append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return nil
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.maxSize > 0 && c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	return nil
}

// Scan walks the live keys in lexical order. Each returned cursor remembers
// the last key visited, so deleting keys between calls never makes the scan
// skip the remaining ones.
func (c *LRUCache) Scan(_ context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	after := ""
	if cursor != 0 {
		last, ok := c.cursors[cursor]
		if !ok {
			return nil, 0, nil
		}
		delete(c.cursors, cursor)
		after = last
	}

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for k, elem := range c.items {
		if k <= after && cursor != 0 {
			continue
		}
		if now.After(elem.Value.(*cacheItem).expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	visited := keys
	if int64(len(visited)) > count {
		visited = keys[:count]
	}

	var matched []string
	for _, k := range visited {
		ok, err := path.Match(match, k)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, k)
		}
	}

	if len(visited) == len(keys) {
		return matched, 0, nil
	}

	if len(c.cursors) >= maxOpenCursors {
		c.cursors = make(map[uint64]string)
	}
	c.cursorSeq++
	c.cursors[c.cursorSeq] = visited[len(visited)-1]
	return matched, c.cursorSeq, nil
}

// Del removes keys from the cache
func (c *LRUCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if elem, exists := c.items[key]; exists {
			c.removeElement(elem)
			removed++
		}
	}
	return removed, nil
}

func (c *LRUCache) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem)
		if now.After(item.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	return len(toRemove)
}

// Size returns the current number of items in the cache
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) Close() error { return nil }
