package command

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/objectfs/bucketcache/internal/cache"
	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// base carries the shared collaborators and the helpers every handler
// uses. Keys are encoded on the way in and decoded on the way out; the
// cache always sees the encoded form, the same names the remote store has.
type base struct {
	remote  types.RemoteStore
	cache   *cache.ObjectCache
	naming  config.NamingConfig
	ttl     time.Duration
	flight  *singleflight.Group
	metrics *metrics.Collector
	logger  *slog.Logger
}

func (b *base) sep(p Params) string {
	if p.Delimiter != "" {
		return p.Delimiter
	}
	return b.naming.Separator
}

// cacheFor returns the cache view for the call's separator, or nil when
// caching is off.
func (b *base) cacheFor(p Params) *cache.ObjectCache {
	if b.cache == nil {
		return nil
	}
	return b.cache.WithSeparator(b.sep(p))
}

func (b *base) ttlFor(p Params) time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return b.ttl
}

func (b *base) codec(p Params) *naming.Codec {
	if !b.naming.EncodeKeys {
		return nil
	}
	return naming.NewCodec(b.sep(p))
}

func (b *base) encode(p Params, name string) string {
	if c := b.codec(p); c != nil && name != "" {
		return c.Encode(name)
	}
	return name
}

func (b *base) encodeAll(p Params, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = b.encode(p, n)
	}
	return out
}

// decode reverses encode. A name the codec did not produce is returned as
// it is.
func (b *base) decode(p Params, name string) string {
	c := b.codec(p)
	if c == nil {
		return name
	}
	decoded, err := c.Decode(name)
	if err != nil {
		b.logger.Debug("returning undecodable name as is", "name", name, "error", err)
		return name
	}
	return decoded
}

func (b *base) decodeAll(p Params, names []string) []string {
	if b.codec(p) == nil {
		return names
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = b.decode(p, n)
	}
	return out
}

func (b *base) decodeInfo(p Params, info *types.ObjectInfo) *types.ObjectInfo {
	if info == nil || b.codec(p) == nil {
		return info
	}
	out := *info
	out.Key = b.decode(p, info.Key)
	return &out
}

func (b *base) decodeItem(p Params, item *types.Item) *types.Item {
	if item == nil || b.codec(p) == nil {
		return item
	}
	out := *item
	out.Info = *b.decodeInfo(p, &item.Info)
	return &out
}

func (b *base) validateBucket(param, bucket string) error {
	if bucket == "" {
		return invalidParam(param, "bucket is required")
	}
	return naming.ValidateBucketName(bucket, b.naming.MaxBucketName)
}

// validateKey checks the key as given and, when encoding is on, the length
// of its encoded form.
func (b *base) validateKey(p Params, param, key string) error {
	if key == "" {
		return invalidParam(param, "key is required")
	}
	if err := naming.ValidateObjectKey(key, b.naming.MaxKeyBytes); err != nil {
		return err
	}
	if enc := b.encode(p, key); enc != key {
		return naming.ValidateObjectKey(enc, b.naming.MaxKeyBytes)
	}
	return nil
}

func (b *base) validatePrefix(p Params, prefix string) error {
	if err := naming.ValidatePrefix(prefix, b.naming.MaxKeyBytes); err != nil {
		return err
	}
	return naming.ValidatePrefix(b.encode(p, prefix), b.naming.MaxKeyBytes)
}

// cacheFailed logs a best-effort cache write or removal that did not
// succeed. The remote operation has already been applied.
func (b *base) cacheFailed(op, bucket, key string, err error) {
	if err == nil {
		return
	}
	if errors.IsCacheUnavailable(err) {
		b.logger.Warn("cache unavailable, continuing without it", "op", op, "bucket", bucket, "key", key, "error", err)
		return
	}
	b.logger.Warn("cache update failed", "op", op, "bucket", bucket, "key", key, "error", err)
}

// remember writes info (and body, when small enough) through to the cache.
func (b *base) remember(ctx context.Context, p Params, bucket, key string, info *types.ObjectInfo, body []byte) {
	c := b.cacheFor(p)
	if c == nil {
		return
	}
	err := c.Put(ctx, bucket, key, newItem(info, body), b.ttlFor(p))
	b.cacheFailed("put", bucket, key, err)
}

// backfill is remember for read-through: an existing entry wins.
func (b *base) backfill(ctx context.Context, p Params, bucket, key string, info *types.ObjectInfo, body []byte) {
	c := b.cacheFor(p)
	if c == nil {
		return
	}
	_, err := c.PutIfAbsent(ctx, bucket, key, newItem(info, body), b.ttlFor(p))
	b.cacheFailed("put_if_absent", bucket, key, err)
}

func (b *base) forget(ctx context.Context, p Params, bucket, key string) {
	c := b.cacheFor(p)
	if c == nil {
		return
	}
	b.cacheFailed("remove", bucket, key, c.Remove(ctx, bucket, key))
}

// lookup consults the cache. Misses and an unavailable cache both return
// nil; only the latter is logged.
func (b *base) lookup(ctx context.Context, p Params, bucket, key string) *types.Item {
	c := b.cacheFor(p)
	if c == nil {
		return nil
	}
	l := c.Get(ctx, bucket, key)
	if l.Err != nil {
		b.cacheFailed("get", bucket, key, l.Err)
	}
	if !l.Found() {
		return nil
	}
	return l.Item
}

func newItem(info *types.ObjectInfo, body []byte) *types.Item {
	if info == nil {
		return nil
	}
	return &types.Item{Info: *info, Body: body}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
