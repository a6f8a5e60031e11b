package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// Config configures an ObjectCache.
type Config struct {
	Namespace string
	Separator string
	TTL       kvstore.TTLPolicy
	// Compression is "none" or "snappy".
	Compression string
	// MaxItemBodySize is the largest body kept in an item entry. Larger
	// bodies are dropped and only metadata is cached. Zero means
	// DefaultMaxItemBodySize; negative disables body caching.
	MaxItemBodySize int64
}

// DefaultMaxItemBodySize is 1MB.
const DefaultMaxItemBodySize = 1 << 20

// ObjectCache keeps hydrated items, per-prefix member lists and a prefix
// index for remote buckets on top of a flat key-value store.
//
// Writes are ordered so that a crash between steps leaves the index a
// superset of the live prefixes: Put writes the member list before the
// index, and Remove prunes the index only after the member list is
// confirmed empty. Updates to one (bucket, prefix) are serialized in
// process and use the store's atomic Update across processes.
type ObjectCache struct {
	store   kvstore.Store
	index   *PrefixIndex
	keys    KeyBuilder
	codec   Codec
	locks   *keyedMutex
	sep     string
	ttl     kvstore.TTLPolicy
	maxBody int64
	now     func() time.Time
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Lookup is the tri-state result of Get.
type Lookup struct {
	Status kvstore.Status
	Item   *types.Item
	Err    error
}

// Found reports whether the lookup hit.
func (l Lookup) Found() bool { return l.Status == kvstore.Found }

// New creates an ObjectCache over store.
func New(store kvstore.Store, config Config, collector *metrics.Collector, logger *slog.Logger) (*ObjectCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Namespace == "" {
		config.Namespace = "bucketcache"
	}
	if config.Separator == "" {
		config.Separator = naming.DefaultSeparator
	}
	if config.TTL.Max <= 0 {
		config.TTL = kvstore.DefaultTTLPolicy()
	}
	if config.MaxItemBodySize == 0 {
		config.MaxItemBodySize = DefaultMaxItemBodySize
	}
	codec, err := NewCodec(config.Compression)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid cache compression").
			WithComponent("cache").
			WithCause(err)
	}

	keys := NewKeyBuilder(config.Namespace)
	return &ObjectCache{
		store:   store,
		index:   NewPrefixIndex(store, keys, codec, config.TTL.Max, collector, logger),
		keys:    keys,
		codec:   codec,
		locks:   newKeyedMutex(),
		sep:     config.Separator,
		ttl:     config.TTL,
		maxBody: config.MaxItemBodySize,
		now:     time.Now,
		metrics: collector,
		logger:  logger.With("component", "cache"),
	}, nil
}

// WithSeparator returns a view of the cache that does its prefix math with
// sep. The view shares the store, index and locks.
func (c *ObjectCache) WithSeparator(sep string) *ObjectCache {
	if sep == "" || sep == c.sep {
		return c
	}
	view := *c
	view.sep = sep
	return &view
}

// Separator returns the separator used for prefix math.
func (c *ObjectCache) Separator() string { return c.sep }

// Index returns the prefix index.
func (c *ObjectCache) Index() *PrefixIndex { return c.index }

// MaxItemBodySize returns the largest body kept in an item entry.
func (c *ObjectCache) MaxItemBodySize() int64 { return c.maxBody }

// Get looks up the hydrated item for key. A corrupt or colliding entry is
// reported and treated as a miss.
func (c *ObjectCache) Get(ctx context.Context, bucket, key string) Lookup {
	storeKey := c.keys.Item(bucket, key)
	res := c.store.Get(ctx, storeKey)
	switch res.Status {
	case kvstore.NotFound:
		return Lookup{Status: kvstore.NotFound}
	case kvstore.Unavailable:
		return Lookup{Status: kvstore.Unavailable, Err: res.Err}
	}

	var env itemEnvelope
	if err := c.codec.Decode(res.Value, &env); err != nil {
		reportInconsistency(c.logger, c.metrics, "item_corrupt", storeKey, err)
		return Lookup{Status: kvstore.NotFound}
	}
	if env.Bucket != bucket || env.Key != key {
		reportInconsistency(c.logger, c.metrics, "item_collision", storeKey,
			fmt.Errorf("entry belongs to %s/%s", env.Bucket, env.Key))
		return Lookup{Status: kvstore.NotFound}
	}
	return Lookup{Status: kvstore.Found, Item: &env.Item}
}

// Has reports whether an item entry exists for key.
func (c *ObjectCache) Has(ctx context.Context, bucket, key string) (bool, error) {
	l := c.Get(ctx, bucket, key)
	if l.Status == kvstore.Unavailable {
		return false, l.Err
	}
	return l.Found(), nil
}

// Put writes item for key, adds key to its prefix's member list and records
// the prefix in the index. A nil item only updates the list and index.
func (c *ObjectCache) Put(ctx context.Context, bucket, key string, item *types.Item, ttl time.Duration) error {
	if item != nil {
		data, err := c.encodeItem(bucket, key, item)
		if err != nil {
			return err
		}
		if err := c.store.Set(ctx, c.keys.Item(bucket, key), data, ttl); err != nil {
			return err
		}
	}
	return c.addMember(ctx, bucket, key, ttl)
}

// PutIfAbsent is Put for read-through population: an existing item entry is
// left alone, but the member list and index are still refreshed. It reports
// whether the item was written.
func (c *ObjectCache) PutIfAbsent(ctx context.Context, bucket, key string, item *types.Item, ttl time.Duration) (bool, error) {
	wrote := false
	if item != nil {
		data, err := c.encodeItem(bucket, key, item)
		if err != nil {
			return false, err
		}
		wrote, err = c.store.SetIfAbsent(ctx, c.keys.Item(bucket, key), data, ttl)
		if err != nil {
			return false, err
		}
	}
	return wrote, c.addMember(ctx, bucket, key, ttl)
}

// AddFolders records sub-folders a remote delimiter listing reported, so a
// later cached listing of their parent returns them even before any key
// below them is cached. A folder without a member list is a tolerated
// false positive of the index.
func (c *ObjectCache) AddFolders(ctx context.Context, bucket string, folders []string) error {
	normalized := make([]string, 0, len(folders))
	for _, f := range folders {
		if f = naming.NormalizePrefix(f, c.sep); f != "" {
			normalized = append(normalized, f)
		}
	}
	return c.index.AddPrefixes(ctx, bucket, normalized)
}

// List returns the member list of prefix. An unknown prefix yields an empty
// result, not an error.
func (c *ObjectCache) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	prefix = naming.NormalizePrefix(prefix, c.sep)
	members, err := c.readList(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	return []string(members), nil
}

// ListAll returns the union of the member lists of every indexed prefix.
func (c *ObjectCache) ListAll(ctx context.Context, bucket string) ([]string, error) {
	prefixes, err := c.index.ListPrefixes(ctx, bucket)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, prefix := range prefixes {
		members, err := c.readList(ctx, bucket, prefix)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			seen[m] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes key's item and list membership, pruning the prefix from the
// index when its member list becomes empty. A directory marker removes the
// whole folder.
func (c *ObjectCache) Remove(ctx context.Context, bucket, key string) error {
	if naming.IsDirMarker(key, c.sep) {
		return c.RemoveFolder(ctx, bucket, key)
	}
	if err := c.store.Delete(ctx, c.keys.Item(bucket, key)); err != nil {
		return err
	}

	prefix := naming.PrefixOf(key, c.sep)
	unlock := c.locks.Lock(lockKey(bucket, prefix))
	defer unlock()

	emptied, err := c.removeMember(ctx, bucket, prefix, key)
	if err != nil || !emptied {
		return err
	}
	return c.prunePrefix(ctx, bucket, prefix)
}

// RemoveFolder deletes prefix and every indexed prefix nested below it,
// together with the items their member lists name.
func (c *ObjectCache) RemoveFolder(ctx context.Context, bucket, prefix string) error {
	prefix = naming.NormalizePrefix(prefix, c.sep)
	prefixes, err := c.index.ListPrefixes(ctx, bucket)
	if err != nil {
		return err
	}

	targets := []string{prefix}
	for _, p := range prefixes {
		if p != prefix && naming.IsUnder(p, prefix) {
			targets = append(targets, p)
		}
	}

	for _, p := range targets {
		if err := c.dropPrefix(ctx, bucket, p, true); err != nil {
			return err
		}
	}
	c.logger.Debug("removed folder", "bucket", bucket, "prefix", prefix, "prefixes", len(targets))
	return nil
}

// RemoveBucket deletes every entry of bucket: indexed member lists and their
// items, then any entries the index no longer reaches, then the index.
func (c *ObjectCache) RemoveBucket(ctx context.Context, bucket string) error {
	prefixes, err := c.index.ListPrefixes(ctx, bucket)
	if err != nil {
		return err
	}
	for _, p := range prefixes {
		if err := c.dropPrefix(ctx, bucket, p, false); err != nil {
			return err
		}
	}

	swept := 0
	for _, kind := range []Kind{KindItem, KindList} {
		keys, err := c.store.KeysMatching(ctx, c.keys.BucketPattern(kind, bucket))
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := c.store.Delete(ctx, k); err != nil {
				return err
			}
		}
		swept += len(keys)
	}

	if err := c.index.Drop(ctx, bucket); err != nil {
		return err
	}
	restored, err := c.reindexLists(ctx, bucket)
	if err != nil {
		return err
	}
	c.logger.Debug("removed bucket", "bucket", bucket, "prefixes", len(prefixes), "orphans", swept, "restored", restored)
	return nil
}

// reindexLists adds back to the index the prefix of every member list of
// bucket still in the store. A Put that lands between the sweep and the
// index drop would otherwise leave a live list the index does not reach.
func (c *ObjectCache) reindexLists(ctx context.Context, bucket string) (int, error) {
	keys, err := c.store.KeysMatching(ctx, c.keys.BucketPattern(KindList, bucket))
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	var prefixes []string
	for _, k := range keys {
		res := c.store.Get(ctx, k)
		switch res.Status {
		case kvstore.NotFound:
			continue
		case kvstore.Unavailable:
			return 0, res.Err
		}
		var env listEnvelope
		if err := c.codec.Decode(res.Value, &env); err != nil || env.Bucket != bucket {
			continue
		}
		prefixes = append(prefixes, env.Prefix)
	}
	return len(prefixes), c.index.AddPrefixes(ctx, bucket, prefixes)
}

func (c *ObjectCache) addMember(ctx context.Context, bucket, key string, ttl time.Duration) error {
	prefix := naming.PrefixOf(key, c.sep)
	unlock := c.locks.Lock(lockKey(bucket, prefix))
	defer unlock()

	listKey := c.keys.List(bucket, prefix)
	err := c.store.Update(ctx, listKey, ttl, func(current []byte, found bool) ([]byte, error) {
		var members stringSet
		if found {
			members, _ = c.decodeList(bucket, prefix, listKey, current)
		}
		members, _ = members.add(key)
		return c.encodeList(bucket, prefix, members)
	})
	if err != nil {
		return err
	}
	return c.index.AddPrefix(ctx, bucket, prefix)
}

// removeMember takes key out of the member list of prefix and reports
// whether the list is now empty or absent.
func (c *ObjectCache) removeMember(ctx context.Context, bucket, prefix, key string) (bool, error) {
	listKey := c.keys.List(bucket, prefix)
	var emptied bool
	err := c.store.Update(ctx, listKey, c.ttl.Max, func(current []byte, found bool) ([]byte, error) {
		emptied = false
		if !found {
			emptied = true
			return nil, kvstore.ErrSkipUpdate
		}
		members, ok := c.decodeList(bucket, prefix, listKey, current)
		if !ok {
			emptied = true
			return nil, nil
		}
		members, removed := members.remove(key)
		if len(members) == 0 {
			emptied = true
			return nil, nil
		}
		if !removed {
			return nil, kvstore.ErrSkipUpdate
		}
		return c.encodeList(bucket, prefix, members)
	})
	return emptied, err
}

// prunePrefix removes prefix from the index, then re-adds it if a member
// list for it reappeared meanwhile. A writer in another process adds its key
// to the list before touching the index, so it either lands after the
// removal or is seen by the check.
func (c *ObjectCache) prunePrefix(ctx context.Context, bucket, prefix string) error {
	if err := c.index.RemovePrefix(ctx, bucket, prefix); err != nil {
		return err
	}
	exists, err := c.store.Exists(ctx, c.keys.List(bucket, prefix))
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("prefix repopulated during removal", "bucket", bucket, "prefix", prefix)
		return c.index.AddPrefix(ctx, bucket, prefix)
	}
	return nil
}

// dropPrefix deletes the member list of prefix and the items it names.
func (c *ObjectCache) dropPrefix(ctx context.Context, bucket, prefix string, prune bool) error {
	unlock := c.locks.Lock(lockKey(bucket, prefix))
	defer unlock()

	members, err := c.readList(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := c.store.Delete(ctx, c.keys.Item(bucket, m)); err != nil {
			return err
		}
	}
	if err := c.store.Delete(ctx, c.keys.List(bucket, prefix)); err != nil {
		return err
	}
	if !prune {
		return nil
	}
	return c.prunePrefix(ctx, bucket, prefix)
}

func (c *ObjectCache) readList(ctx context.Context, bucket, prefix string) (stringSet, error) {
	listKey := c.keys.List(bucket, prefix)
	res := c.store.Get(ctx, listKey)
	switch res.Status {
	case kvstore.NotFound:
		return nil, nil
	case kvstore.Unavailable:
		return nil, res.Err
	}
	members, _ := c.decodeList(bucket, prefix, listKey, res.Value)
	return members, nil
}

func (c *ObjectCache) encodeItem(bucket, key string, item *types.Item) ([]byte, error) {
	stored := *item
	stored.CachedAt = c.now().UTC()
	if stored.Body != nil && int64(len(stored.Body)) > c.maxBody {
		stored.Body = nil
	}
	stored.BodyCached = stored.Body != nil

	data, err := c.codec.Encode(itemEnvelope{Bucket: bucket, Key: key, Item: stored})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeCacheSerialization, "encode item").
			WithComponent("cache").
			WithContext("bucket", bucket).
			WithContext("key", key).
			WithCause(err)
	}
	return data, nil
}

func (c *ObjectCache) encodeList(bucket, prefix string, members stringSet) ([]byte, error) {
	data, err := c.codec.Encode(listEnvelope{Bucket: bucket, Prefix: prefix, Members: members})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeCacheSerialization, "encode member list").
			WithComponent("cache").
			WithContext("bucket", bucket).
			WithContext("prefix", prefix).
			WithCause(err)
	}
	return data, nil
}

func (c *ObjectCache) decodeList(bucket, prefix, key string, data []byte) (stringSet, bool) {
	var env listEnvelope
	if err := c.codec.Decode(data, &env); err != nil {
		reportInconsistency(c.logger, c.metrics, "list_corrupt", key, err)
		return nil, false
	}
	if env.Bucket != bucket || env.Prefix != prefix {
		reportInconsistency(c.logger, c.metrics, "list_collision", key,
			fmt.Errorf("entry belongs to %s/%s", env.Bucket, env.Prefix))
		return nil, false
	}
	return newStringSet(env.Members), true
}

func lockKey(bucket, prefix string) string {
	return bucket + "\x00" + prefix
}
