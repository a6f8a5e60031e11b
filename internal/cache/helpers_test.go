package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore fails the operations selected by failOn and can run a hook
// after each successful Update.
type faultyStore struct {
	kvstore.Store

	mu          sync.Mutex
	failOn      func(op, key string) bool
	afterUpdate func(key string)
}

func (s *faultyStore) setFailOn(fn func(op, key string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

func (s *faultyStore) fault(op, key string) error {
	s.mu.Lock()
	fn := s.failOn
	s.mu.Unlock()
	if fn != nil && fn(op, key) {
		return errors.NewError(errors.ErrCodeCacheUnavailable, "injected failure").WithOperation(op)
	}
	return nil
}

func (s *faultyStore) Get(ctx context.Context, key string) kvstore.Result {
	if err := s.fault("get", key); err != nil {
		return kvstore.Failed(err)
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.fault("set", key); err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func (s *faultyStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.fault("set_if_absent", key); err != nil {
		return false, err
	}
	return s.Store.SetIfAbsent(ctx, key, value, ttl)
}

func (s *faultyStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.fault("exists", key); err != nil {
		return false, err
	}
	return s.Store.Exists(ctx, key)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	if err := s.fault("delete", key); err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

func (s *faultyStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	if err := s.fault("keys", pattern); err != nil {
		return nil, err
	}
	return s.Store.KeysMatching(ctx, pattern)
}

func (s *faultyStore) Update(ctx context.Context, key string, ttl time.Duration, fn kvstore.UpdateFunc) error {
	if err := s.fault("update", key); err != nil {
		return err
	}
	if err := s.Store.Update(ctx, key, ttl, fn); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.afterUpdate
	s.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

type testCache struct {
	*ObjectCache
	store  *faultyStore
	memory *kvstore.MemoryStore
	clock  *fakeClock
}

func newTestCache(t *testing.T, config Config) *testCache {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ttl := config.TTL
	if ttl.Max <= 0 {
		ttl = kvstore.DefaultTTLPolicy()
	}
	memory := kvstore.NewMemoryStore(kvstore.MemoryConfig{TTL: ttl, Now: clock.Now})
	t.Cleanup(func() { _ = memory.Close() })

	store := &faultyStore{Store: memory}
	c, err := New(store, config, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = clock.Now
	return &testCache{ObjectCache: c, store: store, memory: memory, clock: clock}
}

func item(bucket, key, body string) *types.Item {
	return &types.Item{
		Info: types.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(body))},
		Body: []byte(body),
	}
}

func mustPut(t *testing.T, c *ObjectCache, bucket, key, body string) {
	t.Helper()
	if err := c.Put(context.Background(), bucket, key, item(bucket, key, body), 0); err != nil {
		t.Fatalf("Put(%s, %s) error = %v", bucket, key, err)
	}
}

func mustList(t *testing.T, c *ObjectCache, bucket, prefix string) []string {
	t.Helper()
	keys, err := c.List(context.Background(), bucket, prefix)
	if err != nil {
		t.Fatalf("List(%s, %q) error = %v", bucket, prefix, err)
	}
	return keys
}

func mustPrefixes(t *testing.T, c *ObjectCache, bucket string) []string {
	t.Helper()
	prefixes, err := c.Index().ListPrefixes(context.Background(), bucket)
	if err != nil {
		t.Fatalf("ListPrefixes(%s) error = %v", bucket, err)
	}
	return prefixes
}

func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	m := make(map[string]int, len(want))
	for _, w := range want {
		m[w]++
	}
	for _, g := range got {
		if m[g] == 0 {
			return false
		}
		m[g]--
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func keyName(i int) string {
	return fmt.Sprintf("k%03d", i)
}
