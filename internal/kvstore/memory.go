package kvstore

import (
	"container/list"
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	// MaxEntries bounds the store; least recently used entries are evicted
	// first. Zero means unbounded.
	MaxEntries int
	// CleanupInterval enables a janitor that drops expired entries. Zero
	// leaves expiry to lookups.
	CleanupInterval time.Duration
	TTL             TTLPolicy
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// MemoryStore is a thread-safe LRU map with per-entry expiry.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]*memoryItem
	evictList *list.List
	config    MemoryConfig
	stats     types.CacheStats
	closed    bool

	stop chan struct{}
	done chan struct{}
}

type memoryItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// NewMemoryStore creates a new in-process store.
func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.TTL.Max <= 0 {
		config.TTL = DefaultTTLPolicy()
	}

	s := &MemoryStore{
		items:     make(map[string]*memoryItem),
		evictList: list.New(),
		config:    config,
		stats:     types.CacheStats{Capacity: int64(config.MaxEntries)},
	}
	if config.CleanupInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.cleanupExpired()
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Failed(errClosed("get"))
	}
	item, ok := s.lookup(key)
	if !ok {
		s.stats.Misses++
		s.updateHitRate()
		return Miss()
	}
	s.evictList.MoveToFront(item.element)
	s.stats.Hits++
	s.updateHitRate()
	return Hit(copyBytes(item.value))
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("set")
	}
	s.put(key, value, ttl)
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed("set_if_absent")
	}
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed("exists")
	}
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("delete")
	}
	s.removeItem(key, false)
	return nil
}

func (s *MemoryStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed("keys")
	}
	now := s.config.Now()
	var keys []string
	for key, item := range s.items {
		if now.Before(item.expiresAt) && Matches(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update runs fn under the store lock, so it is atomic with respect to
// every other call on this store.
func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("update")
	}
	var current []byte
	item, found := s.lookup(key)
	if found {
		current = copyBytes(item.value)
	}
	next, err := fn(current, found)
	if stderrors.Is(err, ErrSkipUpdate) {
		return nil
	}
	if err != nil {
		return err
	}
	if next == nil {
		s.removeItem(key, false)
		return nil
	}
	s.put(key, next, ttl)
	return nil
}

// Stats returns hit/miss statistics.
func (s *MemoryStore) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Entries = int64(len(s.items))
	return stats
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return nil
}

func (s *MemoryStore) lookup(key string) (*memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if !s.config.Now().Before(item.expiresAt) {
		s.removeItem(key, true)
		return nil, false
	}
	return item, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	expiresAt := s.config.Now().Add(s.config.TTL.Clamp(ttl))

	if item, ok := s.items[key]; ok {
		item.value = copyBytes(value)
		item.expiresAt = expiresAt
		s.evictList.MoveToFront(item.element)
		return
	}

	item := &memoryItem{key: key, value: copyBytes(value), expiresAt: expiresAt}
	item.element = s.evictList.PushFront(key)
	s.items[key] = item

	if s.config.MaxEntries > 0 {
		for len(s.items) > s.config.MaxEntries && s.evictList.Len() > 0 {
			oldest := s.evictList.Back()
			s.removeItem(oldest.Value.(string), true)
		}
	}
}

func (s *MemoryStore) removeItem(key string, evicted bool) {
	item, ok := s.items[key]
	if !ok {
		return
	}
	s.evictList.Remove(item.element)
	delete(s.items, key)
	if evicted {
		s.stats.Evictions++
	}
}

func (s *MemoryStore) updateHitRate() {
	if total := s.stats.Hits + s.stats.Misses; total > 0 {
		s.stats.HitRate = float64(s.stats.Hits) / float64(total)
	}
}

func (s *MemoryStore) cleanupExpired() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.config.Now()
			for key, item := range s.items {
				if !now.Before(item.expiresAt) {
					s.removeItem(key, true)
				}
			}
			s.mu.Unlock()
		}
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func errClosed(op string) error {
	return errors.NewError(errors.ErrCodeCacheUnavailable, "store is closed").
		WithComponent("kvstore").
		WithOperation(op)
}
