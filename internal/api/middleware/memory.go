package middleware

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a single-process Backend used when Redis is not
// configured.
type MemoryBackend struct {
	mu         sync.Mutex
	windows    map[string][]time.Time
	violations map[string]counter
	blocks     map[string]time.Time
	now        func() time.Time
}

type counter struct {
	n       int64
	expires time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		windows:    make(map[string][]time.Time),
		violations: make(map[string]counter),
		blocks:     make(map[string]time.Time),
		now:        time.Now,
	}
}

// Hit records one request and returns how many were already in the window
// and the oldest of them.
func (m *MemoryBackend) Hit(_ context.Context, family, identity string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := family + ":" + identity
	cutoff := now.Add(-window)

	log := m.windows[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]

	count := int64(len(log))
	oldest := now
	if count > 0 {
		oldest = log[0]
	}
	m.windows[key] = append(log, now)

	// Drop idle windows so the map does not grow with every client seen.
	if len(m.windows) > 10000 {
		m.sweep(now, window)
	}
	return count, oldest, nil
}

func (m *MemoryBackend) sweep(now time.Time, window time.Duration) {
	for k, log := range m.windows {
		if len(log) == 0 || !log[len(log)-1].After(now.Add(-window)) {
			delete(m.windows, k)
		}
	}
}

// IncrViolations bumps an IP's violation counter.
func (m *MemoryBackend) IncrViolations(_ context.Context, ip string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := m.violations[ip]
	if !c.expires.After(now) {
		c = counter{}
	}
	c.n++
	c.expires = now.Add(ttl)
	m.violations[ip] = c
	return c.n, nil
}

// IsBlocked checks if an IP is blocked.
func (m *MemoryBackend) IsBlocked(_ context.Context, ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.blocks[ip]
	if !ok {
		return false
	}
	if !until.After(m.now()) {
		delete(m.blocks, ip)
		return false
	}
	return true
}

// Block blocks an IP for the specified duration.
func (m *MemoryBackend) Block(_ context.Context, ip string, duration time.Duration, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[ip] = m.now().Add(duration)
	return nil
}

// Unblock removes an IP block.
func (m *MemoryBackend) Unblock(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, ip)
	return nil
}
