package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the latest snapshot per link in a map.
// It is safe for concurrent use by multiple goroutines.
//
// With a TTL, a background goroutine removes snapshots whose GeneratedAt is
// older than the TTL; Stop must then be called to release it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]DecisionSnapshot
	ttl       time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates a store that keeps snapshots until replaced.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]DecisionSnapshot),
	}
}

// NewMemoryStoreWithTTL creates a store that drops snapshots older than ttl,
// checking every cleanupInterval (default one minute).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		snapshots:     make(map[string]DecisionSnapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and waits for it. Safe to call more
// than once or on a store without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.cleanupTicker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}
	for link, snapshot := range s.snapshots {
		if now.Sub(snapshot.GeneratedAt) > s.ttl {
			delete(s.snapshots, link)
		}
	}
}

// Put replaces the snapshot of snapshot.Link.
func (s *MemoryStore) Put(ctx context.Context, snapshot DecisionSnapshot) error {
	if err := ValidateLinkName(snapshot.Link); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.Link] = snapshot
	return nil
}

// GetLatest returns the snapshot of link. found is false when there is none.
func (s *MemoryStore) GetLatest(ctx context.Context, link string) (DecisionSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return DecisionSnapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[link]
	return snapshot, found, nil
}

// Links returns the links that have a snapshot, sorted.
func (s *MemoryStore) Links() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]string, 0, len(s.snapshots))
	for l := range s.snapshots {
		links = append(links, l)
	}
	sort.Strings(links)
	return links
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot of link and reports whether one existed.
func (s *MemoryStore) Delete(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[link]
	delete(s.snapshots, link)
	return existed
}
