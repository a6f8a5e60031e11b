package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/pkg/errors"
)

// PrefixIndex keeps, per bucket, the set of prefixes that have at least one
// cached key. It is stored as a single entry per bucket and mutated with the
// store's atomic Update.
type PrefixIndex struct {
	store   kvstore.Store
	keys    KeyBuilder
	codec   Codec
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewPrefixIndex creates an index over store. Index entries are always
// written with ttl, which should be the store's maximum so that the index
// outlives the member lists it points at.
func NewPrefixIndex(store kvstore.Store, keys KeyBuilder, codec Codec, ttl time.Duration, collector *metrics.Collector, logger *slog.Logger) *PrefixIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrefixIndex{
		store:   store,
		keys:    keys,
		codec:   codec,
		ttl:     ttl,
		now:     time.Now,
		metrics: collector,
		logger:  logger.With("component", "prefix-index"),
	}
}

// AddPrefix records prefix for bucket. It is idempotent and refreshes the
// entry's TTL.
func (p *PrefixIndex) AddPrefix(ctx context.Context, bucket, prefix string) error {
	return p.AddPrefixes(ctx, bucket, []string{prefix})
}

// AddPrefixes records several prefixes in one update.
func (p *PrefixIndex) AddPrefixes(ctx context.Context, bucket string, prefixes []string) error {
	if len(prefixes) == 0 {
		return nil
	}
	key := p.keys.Index(bucket)
	return p.store.Update(ctx, key, p.ttl, func(current []byte, found bool) ([]byte, error) {
		var set stringSet
		if found {
			set, _ = p.decode(bucket, key, current)
		}
		for _, prefix := range prefixes {
			set, _ = set.add(prefix)
		}
		return p.encode(bucket, set)
	})
}

// RemovePrefix forgets prefix. Removing an unknown prefix is a no-op; the
// entry is deleted once the last prefix is gone.
func (p *PrefixIndex) RemovePrefix(ctx context.Context, bucket, prefix string) error {
	key := p.keys.Index(bucket)
	return p.store.Update(ctx, key, p.ttl, func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, kvstore.ErrSkipUpdate
		}
		set, ok := p.decode(bucket, key, current)
		if !ok {
			return nil, nil
		}
		set, removed := set.remove(prefix)
		if !removed {
			return nil, kvstore.ErrSkipUpdate
		}
		if len(set) == 0 {
			return nil, nil
		}
		return p.encode(bucket, set)
	})
}

// ListPrefixes returns the known prefixes of bucket in sorted order. A
// bucket without an index has no prefixes.
func (p *PrefixIndex) ListPrefixes(ctx context.Context, bucket string) ([]string, error) {
	key := p.keys.Index(bucket)
	res := p.store.Get(ctx, key)
	switch res.Status {
	case kvstore.NotFound:
		return nil, nil
	case kvstore.Unavailable:
		return nil, res.Err
	}
	set, _ := p.decode(bucket, key, res.Value)
	return []string(set), nil
}

// Drop deletes the bucket's index entry.
func (p *PrefixIndex) Drop(ctx context.Context, bucket string) error {
	return p.store.Delete(ctx, p.keys.Index(bucket))
}

func (p *PrefixIndex) encode(bucket string, set stringSet) ([]byte, error) {
	data, err := p.codec.Encode(indexEnvelope{Bucket: bucket, Prefixes: set, Updated: p.now().UTC()})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeCacheSerialization, "encode prefix index").
			WithComponent("cache").
			WithContext("bucket", bucket).
			WithCause(err)
	}
	return data, nil
}

// decode returns the stored prefix set. A corrupt entry or one written for
// another bucket is reported and treated as empty.
func (p *PrefixIndex) decode(bucket, key string, data []byte) (stringSet, bool) {
	var env indexEnvelope
	if err := p.codec.Decode(data, &env); err != nil {
		reportInconsistency(p.logger, p.metrics, "index_corrupt", key, err)
		return nil, false
	}
	if env.Bucket != bucket {
		reportInconsistency(p.logger, p.metrics, "index_collision", key,
			fmt.Errorf("entry belongs to bucket %q", env.Bucket))
		return nil, false
	}
	return newStringSet(env.Prefixes), true
}

func reportInconsistency(logger *slog.Logger, collector *metrics.Collector, kind, key string, cause error) {
	err := errors.NewError(errors.ErrCodeCacheInconsistency, "discarding cache entry").
		WithComponent("cache").
		WithContext("kind", kind).
		WithContext("key", key).
		WithCause(cause)
	logger.Warn("cache index inconsistency", "kind", kind, "key", key, "error", err)
	collector.RecordInconsistency(kind)
}
