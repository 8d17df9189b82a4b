// Package cache keeps recently built chart payloads in a bounded LRU.
package cache

import (
	"container/list"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached entry. Entries are indexed by Hash; Text is
// compared on lookup so two keys sharing a hash never alias.
type Key struct {
	Hash uint64
	Text string
}

// NewKey joins parts with a terminator so ("ab","c") and ("a","bc") differ.
func NewKey(parts ...string) Key {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
		b.WriteByte(0)
	}
	text := b.String()
	return Key{Hash: xxhash.Sum64String(text), Text: text}
}

type entry[V any] struct {
	key   Key
	value V
}

// LRU is a mutex-guarded least-recently-used cache.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[uint64]*list.Element
	hits     uint64
	misses   uint64
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// New creates an LRU holding at most capacity entries (minimum 1).
func New[V any](capacity int) *LRU[V] {
	return &LRU[V]{
		capacity: max(capacity, 1),
		order:    list.New(),
		items:    make(map[uint64]*list.Element, max(capacity, 1)),
	}
}

// Get returns the value for k and marks it recently used.
func (c *LRU[V]) Get(k Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k.Hash]; ok {
		if e := el.Value.(*entry[V]); e.key.Text == k.Text {
			c.order.MoveToFront(el)
			c.hits++
			return e.value, true
		}
	}
	c.misses++
	var zero V
	return zero, false
}

// Put stores v under k, evicting the least recently used entry when full. An
// entry whose key shares k's hash is replaced.
func (c *LRU[V]) Put(k Key, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k.Hash]; ok {
		e := el.Value.(*entry[V])
		e.key = k
		e.value = v
		c.order.MoveToFront(el)
		return
	}
	c.items[k.Hash] = c.order.PushFront(&entry[V]{key: k, value: v})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[V]).key.Hash)
	}
}

// RemoveIf drops every entry whose value matches.
func (c *LRU[V]) RemoveIf(match func(V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry[V]); match(e.value) {
			c.order.Remove(el)
			delete(c.items, e.key.Hash)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses}
}
