package command

import (
	"context"
	"strings"

	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/types"
)

// copyBuckets returns the source and target buckets, defaulting both to
// Bucket.
func copyBuckets(p Params) (string, string) {
	return orDefault(p.SourceBucket, p.Bucket), orDefault(p.TargetBucket, p.Bucket)
}

func (b *base) validateCopy(p Params) error {
	src, dst := copyBuckets(p)
	if err := b.validateBucket(ParamSourceBucket, src); err != nil {
		return err
	}
	if err := b.validateBucket(ParamTargetBucket, dst); err != nil {
		return err
	}
	if err := b.validateKey(p, ParamSource, p.Source); err != nil {
		return err
	}
	if err := b.validateKey(p, ParamTarget, p.Target); err != nil {
		return err
	}
	if src == dst && p.Source == p.Target {
		return invalidParam(ParamTarget, "source and target are the same object")
	}
	return nil
}

// copyOne copies one object and writes the target through to the cache,
// reusing the source's cached body when there is one.
func (b *base) copyOne(ctx context.Context, p Params) (types.CopyPair, *types.ObjectInfo, error) {
	src, dst := copyBuckets(p)
	pair := types.CopyPair{
		Source: types.ObjectRef{Bucket: src, Key: b.encode(p, p.Source)},
		Target: types.ObjectRef{Bucket: dst, Key: b.encode(p, p.Target)},
	}

	info, err := b.remote.CopyObject(ctx, pair)
	if err != nil {
		return pair, nil, err
	}
	b.rememberCopy(ctx, p, pair, info)
	return pair, info, nil
}

func (b *base) rememberCopy(ctx context.Context, p Params, pair types.CopyPair, info *types.ObjectInfo) {
	var body []byte
	if cached := b.lookup(ctx, p, pair.Source.Bucket, pair.Source.Key); cached != nil && cached.BodyCached {
		body = cached.Body
	}
	b.remember(ctx, p, pair.Target.Bucket, pair.Target.Key, info, body)
}

type copyCommand struct{ *base }

func (c *copyCommand) Kind() Kind { return KindCopy }

func (c *copyCommand) Validate(p Params) error { return c.validateCopy(p) }

func (c *copyCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	_, info, err := c.copyOne(ctx, p)
	if err != nil {
		return nil, err
	}
	res := newResult(KindCopy)
	res.Info = c.decodeInfo(p, info)
	res.Count = 1
	return res, nil
}

type moveCommand struct{ *base }

func (c *moveCommand) Kind() Kind { return KindMove }

func (c *moveCommand) Validate(p Params) error { return c.validateCopy(p) }

// Execute copies, then deletes the source. A failed delete leaves both
// objects in place and is reported with the target's info.
func (c *moveCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	pair, info, err := c.copyOne(ctx, p)
	if err != nil {
		return nil, err
	}
	res := newResult(KindMove)
	res.Info = c.decodeInfo(p, info)

	if err := c.remote.DeleteObject(ctx, pair.Source.Bucket, pair.Source.Key); err != nil {
		return res, err
	}
	c.forget(ctx, p, pair.Source.Bucket, pair.Source.Key)
	res.Count = 1
	return res, nil
}

type batchCopyCommand struct{ *base }

func (c *batchCopyCommand) Kind() Kind { return KindBatchCopy }

// Validate needs either explicit Keys or a source Prefix. Target is the
// prefix the copies are rooted at; it may be empty for a copy between
// buckets.
func (c *batchCopyCommand) Validate(p Params) error {
	src, dst := copyBuckets(p)
	if err := c.validateBucket(ParamSourceBucket, src); err != nil {
		return err
	}
	if err := c.validateBucket(ParamTargetBucket, dst); err != nil {
		return err
	}
	if len(p.Keys) == 0 && p.Prefix == "" {
		return invalidParam(ParamKeys, "keys or prefix is required")
	}
	prefix, target := c.folders(p)
	for _, k := range p.Keys {
		if err := c.validateKey(p, ParamKeys, k); err != nil {
			return err
		}
		if !strings.HasPrefix(k, prefix) {
			return invalidParam(ParamKeys, "key "+k+" is not under prefix "+prefix)
		}
	}
	if err := c.validatePrefix(p, p.Prefix); err != nil {
		return err
	}
	if err := c.validatePrefix(p, p.Target); err != nil {
		return err
	}
	if src == dst && prefix == target {
		return invalidParam(ParamTarget, "target prefix equals source prefix")
	}
	return nil
}

// folders returns Prefix and Target as folders ending in the separator, so
// that target "dst" with prefix "src/" maps src/x to dst/x.
func (c *batchCopyCommand) folders(p Params) (string, string) {
	sep := c.sep(p)
	return naming.NormalizePrefix(p.Prefix, sep), naming.NormalizePrefix(p.Target, sep)
}

// Execute copies every key concurrently. Each key keeps its path below the
// Prefix folder and is re-rooted at the Target folder. Failed copies are collected; the
// successful ones stay and are cached.
func (c *batchCopyCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	src, dst := copyBuckets(p)
	prefix, target := c.folders(p)
	prefix, target = c.encode(p, prefix), c.encode(p, target)

	keys := c.encodeAll(p, p.Keys)
	if len(keys) == 0 {
		page, err := c.remote.ListAllObjects(ctx, src, types.ListOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
		keys = page.Keys()
	}

	pairs := make([]types.CopyPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, types.CopyPair{
			Source: types.ObjectRef{Bucket: src, Key: k},
			Target: types.ObjectRef{Bucket: dst, Key: target + strings.TrimPrefix(k, prefix)},
		})
	}

	results, err := c.remote.CopyObjects(ctx, pairs)
	res := newResult(KindBatchCopy)
	for _, r := range results {
		if r.Err == nil {
			c.rememberCopy(ctx, p, r.Pair, r.Info)
			res.Count++
		}
		res.Copies = append(res.Copies, c.decodeCopy(p, r))
	}
	res.Failures = failuresOf(err)
	return res, err
}

func (b *base) decodeCopy(p Params, r types.CopyResult) types.CopyResult {
	if b.codec(p) == nil {
		return r
	}
	r.Pair.Source.Key = b.decode(p, r.Pair.Source.Key)
	r.Pair.Target.Key = b.decode(p, r.Pair.Target.Key)
	r.Info = b.decodeInfo(p, r.Info)
	return r
}
