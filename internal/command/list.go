package command

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/bucketcache/internal/cache"
	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// hydrateConcurrency bounds the remote fetches of one hydrated listing.
const hydrateConcurrency = 8

type listCommand struct{ *base }

func (c *listCommand) Kind() Kind { return KindList }

func (c *listCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validatePrefix(p, p.Prefix)
}

// Execute answers from the cache when it knows the prefix. Without a prefix
// the listing is recursive (every cached key of the bucket); with one it
// holds the keys directly under it. An empty or unavailable cache falls
// back to the remote listing, which then repopulates the cache.
func (c *listCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	sep := c.sep(p)
	recursive := p.Prefix == ""
	prefix := c.encode(p, naming.NormalizePrefix(p.Prefix, sep))
	res := newResult(KindList)

	var (
		infos    map[string]*types.ObjectInfo
		keys     []string
		prefixes []string
	)
	if cc := c.cacheFor(p); cc != nil {
		var err error
		if recursive {
			keys, err = cc.ListAll(ctx, p.Bucket)
		} else {
			keys, err = cc.List(ctx, p.Bucket, prefix)
		}
		if err != nil {
			c.cacheFailed("list", p.Bucket, prefix, err)
			keys = nil
		}
		if len(keys) > 0 {
			res.FromCache = true
			if !recursive {
				prefixes = c.cachedChildren(ctx, cc, p.Bucket, prefix, sep)
			}
		}
	}

	if !res.FromCache {
		page, err := c.remoteList(ctx, p, prefix, recursive)
		if err != nil {
			return nil, err
		}
		keys = page.Keys()
		prefixes = page.CommonPrefixes
		infos = make(map[string]*types.ObjectInfo, len(page.Objects))
		for i := range page.Objects {
			infos[page.Objects[i].Key] = &page.Objects[i]
		}
	}

	if p.Hydrate {
		items, err := c.hydrate(ctx, p, keys, infos)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			res.Items = append(res.Items, c.decodeItem(p, item))
		}
	}

	res.Keys = c.decodeAll(p, keys)
	res.Prefixes = c.decodeAll(p, prefixes)
	res.Count = len(keys)
	return res, nil
}

// remoteList lists prefix remotely and backfills the cache with its keys and
// sub-folders. Concurrent
// callers asking for the same listing share one remote call.
func (c *listCommand) remoteList(ctx context.Context, p Params, prefix string, recursive bool) (*types.ListPage, error) {
	opts := types.ListOptions{Prefix: prefix}
	if !recursive {
		opts.Delimiter = c.sep(p)
	}
	flightKey := strings.Join([]string{p.Bucket, prefix, opts.Delimiter}, "\x00")

	v, err, shared := c.flight.Do(flightKey, func() (interface{}, error) {
		page, err := c.remote.ListAllObjects(ctx, p.Bucket, opts)
		if err != nil {
			return nil, err
		}
		for i := range page.Objects {
			c.backfill(ctx, p, p.Bucket, page.Objects[i].Key, &page.Objects[i], nil)
		}
		if cc := c.cacheFor(p); cc != nil && len(page.CommonPrefixes) > 0 {
			c.cacheFailed("add_folders", p.Bucket, prefix, cc.AddFolders(ctx, p.Bucket, page.CommonPrefixes))
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("shared remote listing", "bucket", p.Bucket, "prefix", prefix)
	}
	return v.(*types.ListPage), nil
}

// cachedChildren returns the indexed prefixes one level below prefix.
func (c *listCommand) cachedChildren(ctx context.Context, cc *cache.ObjectCache, bucket, prefix, sep string) []string {
	all, err := cc.Index().ListPrefixes(ctx, bucket)
	if err != nil {
		c.cacheFailed("list_prefixes", bucket, prefix, err)
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, candidate := range all {
		if candidate == prefix || !naming.IsUnder(candidate, prefix) {
			continue
		}
		rest := candidate[len(prefix):]
		child := prefix + rest[:strings.Index(rest, sep)+len(sep)]
		if _, dup := seen[child]; !dup {
			seen[child] = struct{}{}
			out = append(out, child)
		}
	}
	sort.Strings(out)
	return out
}

// hydrate returns an item per key, in key order. Cached bodies are used as
// they are; otherwise objects up to the cacheable size are fetched and
// written through, and larger ones get metadata only. A key deleted
// meanwhile is skipped.
func (b *base) hydrate(ctx context.Context, p Params, keys []string, infos map[string]*types.ObjectInfo) ([]*types.Item, error) {
	maxBody := int64(cache.DefaultMaxItemBodySize)
	if cc := b.cacheFor(p); cc != nil {
		maxBody = cc.MaxItemBodySize()
	}

	items := make([]*types.Item, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			cached := b.lookup(gctx, p, p.Bucket, key)
			if cached != nil && cached.BodyCached {
				items[i] = cached
				return nil
			}

			info := infos[key]
			if info == nil && cached != nil {
				info = &cached.Info
			}
			if info == nil {
				head, err := b.remote.HeadObject(gctx, p.Bucket, key)
				if err != nil {
					return b.skipNotFound(gctx, p, key, err)
				}
				info = head
			}
			if info.Size > maxBody {
				items[i] = &types.Item{Info: *info}
				return nil
			}

			obj, err := b.remote.GetObject(gctx, p.Bucket, key)
			if err != nil {
				return b.skipNotFound(gctx, p, key, err)
			}
			b.remember(gctx, p, p.Bucket, key, &obj.Info, obj.Body)
			items[i] = &types.Item{Info: obj.Info, Body: obj.Body, BodyCached: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := items[:0]
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}

// skipNotFound drops a key that vanished remotely from the cache and
// swallows the error.
func (b *base) skipNotFound(ctx context.Context, p Params, key string, err error) error {
	if !errors.IsNotFound(err) {
		return err
	}
	b.forget(ctx, p, p.Bucket, key)
	return nil
}

type warmCommand struct{ *base }

func (c *warmCommand) Kind() Kind { return KindWarm }

func (c *warmCommand) Validate(p Params) error {
	if c.cache == nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "warm needs the cache to be enabled").
			WithComponent("command")
	}
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validatePrefix(p, p.Prefix)
}

// Execute lists everything under Prefix and records it in the cache
// without replacing entries that are already there. With Hydrate, small
// bodies are cached too.
func (c *warmCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	prefix := c.encode(p, p.Prefix)
	page, err := c.remote.ListAllObjects(ctx, p.Bucket, types.ListOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}

	res := newResult(KindWarm)
	cc := c.cacheFor(p)
	failed := errors.NewBatchError("warm")
	infos := make(map[string]*types.ObjectInfo, len(page.Objects))
	for i := range page.Objects {
		info := &page.Objects[i]
		infos[info.Key] = info
		if _, err := cc.PutIfAbsent(ctx, p.Bucket, info.Key, newItem(info, nil), c.ttlFor(p)); err != nil {
			// a down cache will not come back within this loop
			if errors.IsCacheUnavailable(err) {
				return res, err
			}
			failed.Add(c.decode(p, info.Key), err)
			continue
		}
		res.Count++
	}
	res.Failures = failed.Messages()

	if p.Hydrate {
		items, err := c.hydrate(ctx, p, page.Keys(), infos)
		if err != nil {
			return res, err
		}
		res.Meta = map[string]string{"hydrated": strconv.Itoa(len(items))}
	}
	c.logger.Info("cache warmed", "bucket", p.Bucket, "prefix", prefix, "keys", res.Count)
	return res, failed.Err()
}
