package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

func TestBucketLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.run(t, KindCreateBucket, Params{Bucket: "scratch"})
	res := e.run(t, KindExists, Params{Bucket: "scratch"})
	assert.True(t, res.Exists)

	_, err := e.reg.Execute(ctx, KindCreateBucket, Params{Bucket: "scratch"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeBucketExists))

	res = e.run(t, KindListBuckets, Params{})
	var names []string
	for _, b := range res.Buckets {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"backup", "media", "scratch"}, names)
	assert.Equal(t, 3, res.Count)

	e.run(t, KindDeleteBucket, Params{Bucket: "scratch"})
	assert.False(t, e.run(t, KindExists, Params{Bucket: "scratch"}).Exists)
}

func TestDeleteBucket_NotEmpty(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "a/1", "v")

	_, err := e.reg.Execute(context.Background(), KindDeleteBucket, Params{Bucket: testBucket})
	assert.True(t, errors.HasCode(err, errors.ErrCodeBucketNotEmpty))

	// a failed delete leaves the cache alone
	assert.Equal(t, []string{"a/1"}, e.cachedKeys(t, "a/"))
}

func TestDeleteBucket_DropsCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.upload(t, "a/1", "v")
	e.remote.mu.Lock()
	delete(e.remote.buckets[testBucket], "a/1")
	e.remote.mu.Unlock()

	e.run(t, KindDeleteBucket, Params{Bucket: testBucket})

	all, err := e.cache.ListAll(ctx, testBucket)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.False(t, e.cachedItem(t, "a/1").Found())
}

func TestClearBucket(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	for _, k := range []string{"a", "b/1", "b/c/2"} {
		e.upload(t, k, "v")
	}

	res := e.run(t, KindClearBucket, Params{Bucket: testBucket})
	assert.Equal(t, 3, res.Count)
	assert.Empty(t, res.Failures)
	assert.Empty(t, e.remote.keys(testBucket))

	all, err := e.cache.ListAll(ctx, testBucket)
	require.NoError(t, err)
	assert.Empty(t, all)

	// the emptied bucket can now be deleted
	e.run(t, KindDeleteBucket, Params{Bucket: testBucket})
}

func TestClearBucket_PartialFailure(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "a", "v")
	e.upload(t, "b", "v")
	e.remote.failKeys["b"] = true

	res, err := e.reg.Execute(context.Background(), KindClearBucket, Params{Bucket: testBucket})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePartialFailure))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Count)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, []string{"b"}, e.remote.keys(testBucket))
}

func TestPresign(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, KindPresign, Params{Bucket: testBucket, Key: "a.txt", Expiry: time.Hour})
	assert.Contains(t, res.URL, "method=GET")
	assert.Contains(t, res.URL, "expires=3600")

	res = e.run(t, KindPresign, Params{Bucket: testBucket, Key: "a.txt", Method: "put"})
	assert.Contains(t, res.URL, "method=PUT")
	assert.Equal(t, 1, e.remote.count("PresignPutObject"))
}

func TestPresign_Invalid(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		p    Params
	}{
		{"bad method", Params{Bucket: testBucket, Key: "a", Method: "DELETE"}},
		{"expiry too long", Params{Bucket: testBucket, Key: "a", Expiry: 8 * 24 * time.Hour}},
		{"negative expiry", Params{Bucket: testBucket, Key: "a", Expiry: -time.Second}},
		{"missing key", Params{Bucket: testBucket}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.reg.Execute(context.Background(), KindPresign, tt.p)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams), "got %v", err)
		})
	}
	assert.Zero(t, e.remote.count("PresignGetObject"))
}

func TestBucketPolicy(t *testing.T) {
	e := newEnv(t)
	policy := `{"Version":"2012-10-17","Statement":[]}`

	e.run(t, KindSetPolicy, Params{Bucket: testBucket, Policy: policy})
	assert.Equal(t, policy, e.run(t, KindGetPolicy, Params{Bucket: testBucket}).Policy)

	e.run(t, KindSetPolicy, Params{Bucket: testBucket, Policy: "  "})
	assert.Equal(t, 1, e.remote.count("DeleteBucketPolicy"))
	assert.Empty(t, e.run(t, KindGetPolicy, Params{Bucket: testBucket}).Policy)
}

func TestSetLifecycle(t *testing.T) {
	e := newEnv(t, withEncoding)

	e.run(t, KindSetLifecycle, Params{Bucket: testBucket, Key: "expire-tmp", Prefix: "tmp #1/", Days: 7})
	assert.Equal(t, []types.LifecycleRule{{
		ID:                     "expire-tmp",
		Prefix:                 "tmp %231/",
		ExpirationDays:         7,
		AbortIncompleteUploads: 7,
		Enabled:                true,
	}}, e.remote.lifecycle[testBucket])

	e.run(t, KindSetLifecycle, Params{Bucket: testBucket, Prefix: "logs/", Days: 30, Status: "suspended"})
	assert.False(t, e.remote.lifecycle[testBucket][0].Enabled)

	_, err := e.reg.Execute(context.Background(), KindSetLifecycle, Params{Bucket: testBucket})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestVersioningAndAcceleration(t *testing.T) {
	e := newEnv(t)

	e.run(t, KindSetVersioning, Params{Bucket: testBucket, Status: "Enabled"})
	assert.True(t, e.remote.versioned[testBucket])
	e.run(t, KindSetVersioning, Params{Bucket: testBucket, Status: "suspended"})
	assert.False(t, e.remote.versioned[testBucket])

	e.run(t, KindSetAcceleration, Params{Bucket: testBucket, Status: "on"})
	assert.True(t, e.remote.fast[testBucket])

	for _, kind := range []Kind{KindSetVersioning, KindSetAcceleration} {
		_, err := e.reg.Execute(context.Background(), kind, Params{Bucket: testBucket})
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams), kind.String())
	}
}
