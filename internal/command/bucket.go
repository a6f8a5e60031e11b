package command

import (
	"context"
	"strings"
	"time"

	"github.com/objectfs/bucketcache/pkg/types"
)

// Versioning and acceleration states.
const (
	StatusEnabled   = "enabled"
	StatusSuspended = "suspended"
)

// Presign methods.
const (
	MethodGet = "GET"
	MethodPut = "PUT"
)

// maxPresignExpiry is the longest lifetime a SigV4 presigned URL may have.
const maxPresignExpiry = 7 * 24 * time.Hour

type listBucketsCommand struct{ *base }

func (c *listBucketsCommand) Kind() Kind { return KindListBuckets }

func (c *listBucketsCommand) Validate(Params) error { return nil }

func (c *listBucketsCommand) Execute(ctx context.Context, _ Params) (*Result, error) {
	buckets, err := c.remote.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	res := newResult(KindListBuckets)
	res.Buckets = buckets
	res.Count = len(buckets)
	return res, nil
}

type createBucketCommand struct{ *base }

func (c *createBucketCommand) Kind() Kind { return KindCreateBucket }

func (c *createBucketCommand) Validate(p Params) error {
	return c.validateBucket(ParamBucket, p.Bucket)
}

func (c *createBucketCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	if err := c.remote.CreateBucket(ctx, p.Bucket); err != nil {
		return nil, err
	}
	return newResult(KindCreateBucket), nil
}

type deleteBucketCommand struct{ *base }

func (c *deleteBucketCommand) Kind() Kind { return KindDeleteBucket }

func (c *deleteBucketCommand) Validate(p Params) error {
	return c.validateBucket(ParamBucket, p.Bucket)
}

func (c *deleteBucketCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	if err := c.remote.DeleteBucket(ctx, p.Bucket); err != nil {
		return nil, err
	}
	c.dropBucket(ctx, p)
	return newResult(KindDeleteBucket), nil
}

func (b *base) dropBucket(ctx context.Context, p Params) {
	if cc := b.cacheFor(p); cc != nil {
		b.cacheFailed("remove_bucket", p.Bucket, "", cc.RemoveBucket(ctx, p.Bucket))
	}
}

type clearBucketCommand struct{ *base }

func (c *clearBucketCommand) Kind() Kind { return KindClearBucket }

func (c *clearBucketCommand) Validate(p Params) error {
	return c.validateBucket(ParamBucket, p.Bucket)
}

// Execute deletes every object of the bucket, collecting per-key failures,
// and drops the bucket from the cache. Deleted objects are not restored
// when others fail.
func (c *clearBucketCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	page, err := c.remote.ListAllObjects(ctx, p.Bucket, types.ListOptions{})
	if err != nil {
		return nil, err
	}
	keys := page.Keys()

	res := newResult(KindClearBucket)
	delErr := c.remote.DeleteObjects(ctx, p.Bucket, keys)
	res.Failures = failuresOf(delErr)
	res.Count = len(keys) - len(res.Failures)
	c.dropBucket(ctx, p)
	return res, delErr
}

type presignCommand struct{ *base }

func (c *presignCommand) Kind() Kind { return KindPresign }

func (c *presignCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	if err := c.validateKey(p, ParamKey, p.Key); err != nil {
		return err
	}
	switch strings.ToUpper(orDefault(p.Method, MethodGet)) {
	case MethodGet, MethodPut:
	default:
		return invalidParam(ParamMethod, "method must be GET or PUT")
	}
	if p.Expiry < 0 || p.Expiry > maxPresignExpiry {
		return invalidParam(ParamExpiry, "expiry must be between 0 and 7 days")
	}
	return nil
}

// Execute signs a URL for the key. A zero Expiry uses the store's default.
func (c *presignCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	key := c.encode(p, p.Key)
	presign := c.remote.PresignGetObject
	if strings.ToUpper(p.Method) == MethodPut {
		presign = c.remote.PresignPutObject
	}
	url, err := presign(ctx, p.Bucket, key, p.Expiry)
	if err != nil {
		return nil, err
	}
	res := newResult(KindPresign)
	res.URL = url
	return res, nil
}

type setPolicyCommand struct{ *base }

func (c *setPolicyCommand) Kind() Kind { return KindSetPolicy }

func (c *setPolicyCommand) Validate(p Params) error {
	return c.validateBucket(ParamBucket, p.Bucket)
}

// Execute replaces the bucket policy. An empty policy deletes it.
func (c *setPolicyCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	var err error
	if strings.TrimSpace(p.Policy) == "" {
		err = c.remote.DeleteBucketPolicy(ctx, p.Bucket)
	} else {
		err = c.remote.PutBucketPolicy(ctx, p.Bucket, p.Policy)
	}
	if err != nil {
		return nil, err
	}
	return newResult(KindSetPolicy), nil
}

type getPolicyCommand struct{ *base }

func (c *getPolicyCommand) Kind() Kind { return KindGetPolicy }

func (c *getPolicyCommand) Validate(p Params) error {
	return c.validateBucket(ParamBucket, p.Bucket)
}

func (c *getPolicyCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	policy, err := c.remote.GetBucketPolicy(ctx, p.Bucket)
	if err != nil {
		return nil, err
	}
	res := newResult(KindGetPolicy)
	res.Policy = policy
	return res, nil
}

type setLifecycleCommand struct{ *base }

func (c *setLifecycleCommand) Kind() Kind { return KindSetLifecycle }

func (c *setLifecycleCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	if p.Days <= 0 {
		return invalidParam(ParamDays, "days must be positive")
	}
	if _, err := parseStatus(p.Status, true); err != nil {
		return err
	}
	return c.validatePrefix(p, p.Prefix)
}

// Execute installs a single expiration rule for Prefix, named by Key when
// given. Incomplete multipart uploads under the prefix are aborted after
// the same number of days.
func (c *setLifecycleCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	enabled, _ := parseStatus(p.Status, true)
	rule := types.LifecycleRule{
		ID:                     p.Key,
		Prefix:                 c.encode(p, p.Prefix),
		ExpirationDays:         p.Days,
		AbortIncompleteUploads: p.Days,
		Enabled:                enabled,
	}
	if err := c.remote.PutBucketLifecycle(ctx, p.Bucket, []types.LifecycleRule{rule}); err != nil {
		return nil, err
	}
	return newResult(KindSetLifecycle), nil
}

type setVersioningCommand struct{ *base }

func (c *setVersioningCommand) Kind() Kind { return KindSetVersioning }

func (c *setVersioningCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	_, err := parseStatus(p.Status, false)
	return err
}

func (c *setVersioningCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	enabled, _ := parseStatus(p.Status, false)
	if err := c.remote.PutBucketVersioning(ctx, p.Bucket, enabled); err != nil {
		return nil, err
	}
	return newResult(KindSetVersioning), nil
}

type setAccelerationCommand struct{ *base }

func (c *setAccelerationCommand) Kind() Kind { return KindSetAcceleration }

func (c *setAccelerationCommand) Validate(p Params) error {
	if err := c.validateBucket(ParamBucket, p.Bucket); err != nil {
		return err
	}
	_, err := parseStatus(p.Status, false)
	return err
}

func (c *setAccelerationCommand) Execute(ctx context.Context, p Params) (*Result, error) {
	enabled, _ := parseStatus(p.Status, false)
	if err := c.remote.PutBucketAcceleration(ctx, p.Bucket, enabled); err != nil {
		return nil, err
	}
	return newResult(KindSetAcceleration), nil
}

// parseStatus maps enabled/suspended and the usual boolean spellings to a
// bool. An empty status means enabled when emptyOK is set.
func parseStatus(status string, emptyOK bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusEnabled, "enable", "on", "true":
		return true, nil
	case StatusSuspended, "suspend", "disabled", "off", "false":
		return false, nil
	case "":
		if emptyOK {
			return true, nil
		}
	}
	return false, invalidParam(ParamStatus, "status must be enabled or suspended")
}
