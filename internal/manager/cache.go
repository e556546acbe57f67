package manager

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"LagSentinel/internal/model"
)

type cacheKey struct {
	Interval model.Interval
	Period   model.Period
}

func (k cacheKey) String() string { return fmt.Sprintf("%s/%s", k.Interval, k.Period) }

type cacheEntry struct {
	key    cacheKey
	endMs  int64
	series *model.Series
}

// hotCache is a bounded LRU of reference series. Every value goes in and out
// as a deep copy.
type hotCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[cacheKey]*list.Element
	hits     uint64
	misses   uint64
}

func newHotCache(capacity int) *hotCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &hotCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

// get returns a copy of the entry for key if it still covers a window ending
// at endMs. Older windows count as a miss.
func (c *hotCache) get(key cacheKey, endMs int64) (*model.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok || el.Value.(*cacheEntry).endMs < endMs {
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheEntry).series.Clone(), true
}

// put stores a copy of s. Insertion and eviction happen under one lock.
func (c *hotCache) put(key cacheKey, endMs int64, s *model.Series) {
	cp := s.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*cacheEntry)
		e.endMs, e.series = endMs, cp
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, endMs: endMs, series: cp})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *hotCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[cacheKey]*list.Element)
}

type cacheStats struct {
	hits, misses uint64
	keys         []string
}

func (c *hotCache) stats() cacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := cacheStats{hits: c.hits, misses: c.misses, keys: make([]string, 0, len(c.items))}
	for k := range c.items {
		st.keys = append(st.keys, k.String())
	}
	sort.Strings(st.keys)
	return st
}
