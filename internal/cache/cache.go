// Package cache provides the shared TTL cache and its typed album-year and
// API-response wrappers.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/errs"
	"tunesync/internal/fsutil"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "cache"})

// Entry pairs a cached value with its absolute expiry deadline.
type Entry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is an in-memory TTL cache with a size cap and optional JSON
// persistence. Keys are pre-hashed strings (see the keys package). All
// operations are safe for concurrent use.
type Store[V any] struct {
	mu         sync.RWMutex
	entries    map[string]Entry[V]
	defaultTTL time.Duration
	maxEntries int
	path       string
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// New returns a Store with the given default TTL and size cap. path may be
// empty for a memory-only store.
func New[V any](defaultTTL time.Duration, maxEntries int, path string) *Store[V] {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Store[V]{
		entries:    make(map[string]Entry[V]),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		path:       path,
		stopCh:     make(chan struct{}),
	}
}

// Get returns the live value for key. An expired entry counts as a miss and
// is dropped on the spot.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(e.ExpiresAt) {
		delete(s.entries, key)
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key with the default TTL.
func (s *Store[V]) Set(key string, value V) {
	s.SetTTL(key, value, s.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL, then enforces the
// size cap.
func (s *Store[V]) SetTTL(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry[V]{Value: value, ExpiresAt: time.Now().Add(ttl)}
	s.enforceSizeLocked()
}

// Invalidate removes key and reports whether it was present.
func (s *Store[V]) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// InvalidateAll empties the store.
func (s *Store[V]) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry[V])
}

// CleanupExpired drops every entry past its deadline and reports how many.
func (s *Store[V]) CleanupExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// EnforceSizeLimits drops the entries closest to expiry until the store is
// back under its cap. Returns the number dropped.
func (s *Store[V]) EnforceSizeLimits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforceSizeLocked()
}

func (s *Store[V]) enforceSizeLocked() int {
	over := len(s.entries) - s.maxEntries
	if over <= 0 {
		return 0
	}

	type aged struct {
		key       string
		expiresAt time.Time
	}
	byExpiry := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		byExpiry = append(byExpiry, aged{key: k, expiresAt: e.ExpiresAt})
	}
	sort.Slice(byExpiry, func(i, j int) bool {
		return byExpiry[i].expiresAt.Before(byExpiry[j].expiresAt)
	})
	for i := 0; i < over; i++ {
		delete(s.entries, byExpiry[i].key)
	}
	return over
}

// Len returns the number of entries, expired ones included until the next
// cleanup touches them.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartCleanup launches the background janitor. Stop ends it.
func (s *Store[V]) StartCleanup(interval time.Duration) {
	go s.loop(interval)
}

// Stop signals the janitor to exit. Safe to call more than once.
func (s *Store[V]) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store[V]) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.CleanupExpired()
			removed += s.EnforceSizeLimits()
			if removed > 0 {
				log.Debugf("janitor dropped %d cache entries", removed)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Save writes all live entries to the store's path atomically. Expired
// entries are not persisted.
func (s *Store[V]) Save() error {
	if s.path == "" {
		return nil
	}

	now := time.Now()
	s.mu.RLock()
	live := make(map[string]Entry[V], len(s.entries))
	for k, e := range s.entries {
		if now.After(e.ExpiresAt) {
			continue
		}
		live[k] = e
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, data, 0o644)
}

// Load restores entries from the store's path, dropping any that expired on
// disk. A missing file is a clean start; a corrupt one is reported as a
// CacheCorruptionError so the owner can log it and rebuild.
func (s *Store[V]) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache %s: %w", s.path, err)
	}

	var stored map[string]Entry[V]
	if err := json.Unmarshal(data, &stored); err != nil {
		return &errs.CacheCorruptionError{Path: s.path, Cause: err}
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range stored {
		if now.After(e.ExpiresAt) {
			continue
		}
		s.entries[k] = e
	}
	return nil
}
