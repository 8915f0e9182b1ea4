package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memo is a small TTL cache owned by whoever creates it. A zero TTL keeps
// entries until they are invalidated.
type Memo[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[K]entry[V]
}

// NewMemo creates an empty memo
func NewMemo[K comparable, V any](ttl time.Duration) *Memo[K, V] {
	return &Memo[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the value for k if present and not expired
func (m *Memo[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	if m.ttl > 0 && !m.now().Before(e.expires) {
		delete(m.entries, k)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under k
func (m *Memo[K, V]) Set(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = entry[V]{value: v, expires: m.now().Add(m.ttl)}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are returned as is and never cached. Concurrent misses on the same key
// may each call load.
func (m *Memo[K, V]) GetOrLoad(ctx context.Context, k K, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := m.Get(k); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	m.Set(k, v)
	return v, nil
}

// Invalidate drops k
func (m *Memo[K, V]) Invalidate(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
}

// InvalidateAll drops every entry
func (m *Memo[K, V]) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, expired ones included
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
