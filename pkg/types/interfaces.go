package types

import (
	"context"
	"io"
	"time"
)

// ObjectStore defines object-level operations against a remote store.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string) error

	// DeleteObjects removes keys in batches. Per-key failures are collected;
	// keys that were deleted stay deleted.
	DeleteObjects(ctx context.Context, bucket string, keys []string) error

	// ListObjects returns a single page.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) (*ListPage, error)
	// ListAllObjects follows continuation tokens and aggregates every page.
	ListAllObjects(ctx context.Context, bucket string, opts ListOptions) (*ListPage, error)

	CopyObject(ctx context.Context, pair CopyPair) (*ObjectInfo, error)
	// CopyObjects runs copies concurrently. The returned error is non-nil if
	// any pair failed; results carry the per-pair outcome either way.
	CopyObjects(ctx context.Context, pairs []CopyPair) ([]CopyResult, error)

	PresignGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	PresignPutObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// BucketManager defines bucket-level operations.
type BucketManager interface {
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	PutBucketPolicy(ctx context.Context, bucket, policy string) error
	GetBucketPolicy(ctx context.Context, bucket string) (string, error)
	DeleteBucketPolicy(ctx context.Context, bucket string) error
	PutBucketLifecycle(ctx context.Context, bucket string, rules []LifecycleRule) error
	PutBucketVersioning(ctx context.Context, bucket string, enabled bool) error
	PutBucketAcceleration(ctx context.Context, bucket string, enabled bool) error
}

// RemoteStore is the full remote object-storage surface commands depend on.
type RemoteStore interface {
	ObjectStore
	BucketManager
}
