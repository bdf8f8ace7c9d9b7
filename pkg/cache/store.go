package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Store is a cache backend. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key, or ErrCacheMiss if it is absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under entry.Key.
	Set(ctx context.Context, entry *Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Layer names the backend in metrics and logs.
	Layer() string

	Close() error
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxEntries bounds the store; the least recently used entry is evicted
	// when it is exceeded. 0 means unbounded.
	MaxEntries int

	// SweepInterval enables a background sweep of expired entries. 0 disables it;
	// expiry is then only checked on lookup.
	SweepInterval time.Duration
}

// MemoryStore is an in-process LRU store.
type MemoryStore struct {
	maxEntries int

	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	stopCh    chan struct{}
	stopOnce  sync.Once
	sweepDone chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its sweep loop if configured.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	s := &MemoryStore{
		maxEntries: cfg.MaxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		stopCh:     make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		s.sweepDone = make(chan struct{})
		go s.sweepLoop(cfg.SweepInterval)
	}
	return s
}

// Layer implements Store.
func (s *MemoryStore) Layer() string { return "memory" }

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	el, ok := s.entries[key]
	var entry *Entry
	if ok {
		entry = el.Value.(*Entry)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.IsExpired(time.Now()) {
		s.mu.Lock()
		// Another writer may have replaced it in the meantime.
		if cur, ok := s.entries[key]; ok && cur == el {
			s.removeElement(el)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}

	if s.maxEntries > 0 {
		s.mu.Lock()
		s.order.MoveToFront(el) // no-op if el was removed meanwhile
		s.mu.Unlock()
	}
	return entry, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[entry.Key]; ok {
		el.Value = entry
		s.order.MoveToFront(el)
		return nil
	}

	s.entries[entry.Key] = s.order.PushFront(entry)
	CacheEntries.WithLabelValues(s.Layer()).Inc()

	for s.maxEntries > 0 && s.order.Len() > s.maxEntries {
		s.removeElement(s.order.Back())
		CacheEvictions.Inc()
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// DeletePrefix implements Store.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, el := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.removeElement(el)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

// Close stops the sweep loop and drops all entries.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.sweepDone != nil {
			<-s.sweepDone
		}

		s.mu.Lock()
		CacheEntries.WithLabelValues(s.Layer()).Sub(float64(s.order.Len()))
		s.entries = make(map[string]*list.Element)
		s.order.Init()
		s.mu.Unlock()
	})
	return nil
}

// removeElement must be called with mu held.
func (s *MemoryStore) removeElement(el *list.Element) {
	entry := s.order.Remove(el).(*Entry)
	delete(s.entries, entry.Key)
	CacheEntries.WithLabelValues(s.Layer()).Dec()
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep drops every entry expired at now.
func (s *MemoryStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry).IsExpired(now) {
			s.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}
