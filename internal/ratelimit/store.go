package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is the state of one fixed window after a hit has been recorded
type Counter struct {
	Count       int
	WindowStart time.Time
	ResetAt     time.Time
}

// CounterStore records attempts per key. A window opens on the first hit and
// every hit before WindowStart+window shares its count. The first hit after
// the window has elapsed opens a new window with count 1.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
	// Sweep drops expired windows and returns how many were removed
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

type memoryEntry struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.windowStart.Add(e.window))
}

// MemoryStore keeps counters in process memory. Limits enforced through it
// are per instance when the service is scaled horizontally.
type MemoryStore struct {
	mu               sync.Mutex
	entries          map[string]*memoryEntry
	cleanupThreshold int
}

var _ CounterStore = (*MemoryStore)(nil)

func NewMemoryStore(cleanupThreshold int) *MemoryStore {
	return &MemoryStore{
		entries:          make(map[string]*memoryEntry),
		cleanupThreshold: cleanupThreshold,
	}
}

func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &memoryEntry{windowStart: now, window: window}
		s.entries[key] = e
	}
	e.count++

	if s.cleanupThreshold > 0 && len(s.entries) > s.cleanupThreshold {
		s.sweepLocked(now)
	}

	return Counter{
		Count:       e.count,
		WindowStart: e.windowStart,
		ResetAt:     e.windowStart.Add(e.window),
	}, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now), nil
}

// Len returns the number of tracked windows, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
