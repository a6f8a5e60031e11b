package command

import (
	"bytes"
	"context"
	"io"

	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

type uploadCommand struct{ *base }

func (c *uploadCommand) Kind() Kind { return KindUpload }

func (c *uploadCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validateKey(p, ParamKey, p.Key)
}

// Execute writes the object to the remote store, then through to the cache.
// Bodies small enough to cache are buffered first, which also makes them
// replayable on retry.
func (c *uploadCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	key := c.encode(p, p.Key)
	body, size := p.Body, p.Size
	if body == nil {
		body, size = bytes.NewReader(nil), 0
	}

	var data []byte
	if cc := c.cacheFor(p); cc != nil && size >= 0 && size <= cc.MaxItemBodySize() {
		limit := cc.MaxItemBodySize()
		buf, err := io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidParams, "failed to read upload body").
				WithComponent("command").
				WithContext("key", p.Key)
		}
		if int64(len(buf)) <= limit {
			data = buf
			body, size = bytes.NewReader(buf), int64(len(buf))
		} else {
			body = io.MultiReader(bytes.NewReader(buf), body)
			size = -1
		}
	}

	info, err := c.remote.PutObject(ctx, p.Bucket, key, body, size, types.PutOptions{
		ContentType:  p.ContentType,
		StorageClass: p.StorageClass,
		Metadata:     p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	c.remember(ctx, p, p.Bucket, key, info, data)

	res := newResult(KindUpload)
	res.Info = c.decodeInfo(p, info)
	return res, nil
}

type downloadCommand struct{ *base }

func (c *downloadCommand) Kind() Kind { return KindDownload }

func (c *downloadCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validateKey(p, ParamKey, p.Key)
}

// Execute serves a cached body when there is one. Otherwise the object is
// fetched and written back: read-through when the key was unknown, and an
// overwrite when only its metadata was cached.
func (c *downloadCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	key := c.encode(p, p.Key)
	res := newResult(KindDownload)

	cached := c.lookup(ctx, p, p.Bucket, key)
	if cached != nil && cached.BodyCached {
		info := c.decodeInfo(p, &cached.Info)
		res.Info = info
		res.Object = &types.Object{Info: *info, Body: cached.Body}
		res.FromCache = true
		return res, nil
	}

	obj, err := c.remote.GetObject(ctx, p.Bucket, key)
	if err != nil {
		if errors.IsNotFound(err) && cached != nil {
			c.forget(ctx, p, p.Bucket, key)
		}
		return nil, err
	}
	if cached != nil {
		c.remember(ctx, p, p.Bucket, key, &obj.Info, obj.Body)
	} else {
		c.backfill(ctx, p, p.Bucket, key, &obj.Info, obj.Body)
	}

	info := c.decodeInfo(p, &obj.Info)
	res.Info = info
	res.Object = &types.Object{Info: *info, Body: obj.Body}
	return res, nil
}

type headCommand struct{ *base }

func (c *headCommand) Kind() Kind { return KindHead }

func (c *headCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validateKey(p, ParamKey, p.Key)
}

func (c *headCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	key := c.encode(p, p.Key)
	res := newResult(KindHead)

	if cached := c.lookup(ctx, p, p.Bucket, key); cached != nil {
		res.Info = c.decodeInfo(p, &cached.Info)
		res.FromCache = true
		return res, nil
	}

	info, err := c.remote.HeadObject(ctx, p.Bucket, key)
	if err != nil {
		return nil, err
	}
	c.backfill(ctx, p, p.Bucket, key, info, nil)
	res.Info = c.decodeInfo(p, info)
	return res, nil
}

type existsCommand struct{ *base }

func (c *existsCommand) Kind() Kind { return KindExists }

// Validate accepts a bare bucket, which checks the bucket itself.
func (c *existsCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	if p.Key == "" {
		return nil
	}
	return c.validateKey(p, ParamKey, p.Key)
}

func (c *existsCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	res := newResult(KindExists)
	if p.Key == "" {
		ok, err := c.remote.BucketExists(ctx, p.Bucket)
		if err != nil {
			return nil, err
		}
		res.Exists = ok
		return res, nil
	}

	key := c.encode(p, p.Key)
	if cached := c.lookup(ctx, p, p.Bucket, key); cached != nil {
		res.Exists = true
		res.FromCache = true
		return res, nil
	}

	info, err := c.remote.HeadObject(ctx, p.Bucket, key)
	switch {
	case errors.IsNotFound(err):
		res.Exists = false
		return res, nil
	case err != nil:
		return nil, err
	}
	c.backfill(ctx, p, p.Bucket, key, info, nil)
	res.Exists = true
	return res, nil
}

type deleteCommand struct{ *base }

func (c *deleteCommand) Kind() Kind { return KindDelete }

func (c *deleteCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	return c.validateKey(p, ParamKey, p.Key)
}

func (c *deleteCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	key := c.encode(p, p.Key)
	if err := c.remote.DeleteObject(ctx, p.Bucket, key); err != nil {
		return nil, err
	}
	c.forget(ctx, p, p.Bucket, key)

	res := newResult(KindDelete)
	res.Count = 1
	return res, nil
}

type deleteFolderCommand struct{ *base }

func (c *deleteFolderCommand) Kind() Kind { return KindDeleteFolder }

// Validate requires a non-root prefix; emptying a whole bucket is
// clear-bucket.
func (c *deleteFolderCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	if folderPrefix(p, c.sep(p)) == naming.RootPrefix {
		return invalidParam(ParamPrefix, "folder prefix is required")
	}
	return c.validatePrefix(p, folderPrefix(p, c.sep(p)))
}

// Execute deletes every key under the folder, then drops the folder and
// its subfolders from the cache. The cache is cleared even when some
// deletes failed; the keys that survived are found again remotely.
func (c *deleteFolderCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	sep := c.sep(p)
	prefix := c.encode(p, folderPrefix(p, sep))

	page, err := c.remote.ListAllObjects(ctx, p.Bucket, types.ListOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	keys := page.Keys()

	res := newResult(KindDeleteFolder)
	delErr := c.remote.DeleteObjects(ctx, p.Bucket, keys)
	res.Failures = failuresOf(delErr)
	res.Count = len(keys) - len(res.Failures)

	if cc := c.cacheFor(p); cc != nil {
		c.cacheFailed("remove_folder", p.Bucket, prefix, cc.RemoveFolder(ctx, p.Bucket, prefix))
	}
	return res, delErr
}

// folderPrefix is Prefix, or Key when only a key was given, normalized to
// end with the separator.
func folderPrefix(p Params, sep string) string {
	return naming.NormalizePrefix(orDefault(p.Prefix, p.Key), sep)
}

// failuresOf returns the per-item messages of a batch failure.
func failuresOf(err error) []string {
	if err == nil {
		return nil
	}
	var batch *errors.BatchError
	if errors.As(err, &batch) {
		return batch.Messages()
	}
	return []string{err.Error()}
}
