package cache

import (
	"container/list"
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// lruEntry is one resident cache entry.
type lruEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// LRU is the bounded in-process fallback store: size-capped with per-entry
// TTL, evicting least-recently-used entries at capacity. Safe for concurrent
// use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

// NewLRU creates an in-process store bounded to capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

var _ Backend = (*LRU)(nil)

// Get returns the value for key if present and unexpired.
func (l *LRU) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return "", false, nil
	}
	entry := el.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		l.removeLocked(el)
		return "", false, nil
	}
	l.order.MoveToFront(el)
	return entry.value, true, nil
}

// Set stores key with a TTL, evicting the oldest entry at capacity.
func (l *LRU) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	if el, ok := l.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		l.order.MoveToFront(el)
		return nil
	}

	el := l.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	l.items[key] = el

	if l.order.Len() > l.capacity {
		l.removeLocked(l.order.Back())
	}
	return nil
}

// Delete removes key if present.
func (l *LRU) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		l.removeLocked(el)
	}
	return nil
}

// DeletePattern removes all keys matching a glob pattern.
func (l *LRU) DeletePattern(_ context.Context, pattern string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, el := range l.items {
		if ok, _ := path.Match(pattern, key); ok {
			l.removeLocked(el)
			removed++
		}
	}
	return removed, nil
}

// GetMany returns the present, unexpired values for keys.
func (l *LRU) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok, _ := l.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out, nil
}

// SetMany stores all entries with a shared TTL.
func (l *LRU) SetMany(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	for k, v := range entries {
		if err := l.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Incr atomically increments the integer counter at key, initializing
// missing or expired counters to zero first.
func (l *LRU) Incr(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var current int64
	if el, ok := l.items[key]; ok {
		entry := el.Value.(*lruEntry)
		if time.Now().After(entry.expiresAt) {
			l.removeLocked(el)
		} else {
			current = parseInt64(entry.value)
			current++
			entry.value = formatInt64(current)
			l.order.MoveToFront(el)
			return current, nil
		}
	}

	current = 1
	el := l.order.PushFront(&lruEntry{key: key, value: formatInt64(current), expiresAt: time.Now().Add(24 * time.Hour)})
	l.items[key] = el
	if l.order.Len() > l.capacity {
		l.removeLocked(l.order.Back())
	}
	return current, nil
}

// Expire resets the TTL of an existing key.
func (l *LRU) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		el.Value.(*lruEntry).expiresAt = time.Now().Add(ttl)
	}
	return nil
}

// Len returns the number of resident entries, including expired ones not
// yet collected.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

func (l *LRU) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*lruEntry)
	delete(l.items, entry.key)
	l.order.Remove(el)
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}
