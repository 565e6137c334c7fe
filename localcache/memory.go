package localcache

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-campus-auth"
)

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// MemoryOption customizes the Memory cache
type MemoryOption func(*Memory)

// WithMemoryClock injects a custom clock (useful for tests).
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.now = clock
		}
	}
}

// Memory is a process local auth.LocalCache. Expired keys are dropped lazily.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

var _ auth.LocalCache = (*Memory)(nil)

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{items: map[string]memoryItem{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", auth.ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", auth.ErrCacheMiss
	}
	return item.value, nil
}

// Set stores value, a ttl <= 0 keeps it until removed
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored keys, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
