package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketcache/pkg/errors"
)

func TestList_ReadThroughThenCached(t *testing.T) {
	e := newEnv(t)
	for _, k := range []string{"x/1", "x/2", "x/y/3"} {
		e.remote.seed(testBucket, k, "v")
	}

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "x"})
	assert.False(t, res.FromCache)
	assert.Equal(t, []string{"x/1", "x/2"}, res.Keys)
	assert.Equal(t, []string{"x/y/"}, res.Prefixes)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, e.remote.count("ListAllObjects"))

	res = e.run(t, KindList, Params{Bucket: testBucket, Prefix: "x/"})
	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"x/1", "x/2"}, res.Keys)
	assert.Equal(t, 1, e.remote.count("ListAllObjects"))

	// the listing also cached item metadata
	l := e.cachedItem(t, "x/1")
	require.True(t, l.Found())
	assert.False(t, l.Item.BodyCached)
}

func TestList_CachedListingKeepsRemoteSubfolders(t *testing.T) {
	e := newEnv(t)
	e.remote.seed(testBucket, "a/x", "v")
	e.remote.seed(testBucket, "a/b/y", "v")
	e.remote.seed(testBucket, "a/c/d/z", "v")

	remote := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "a/"})
	require.False(t, remote.FromCache)
	assert.Equal(t, []string{"a/b/", "a/c/"}, remote.Prefixes)

	cached := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "a/"})
	require.True(t, cached.FromCache)
	assert.Equal(t, remote.Keys, cached.Keys)
	assert.Equal(t, remote.Prefixes, cached.Prefixes)
	assert.Equal(t, 1, e.remote.count("ListAllObjects"))

	// a sub-folder known only from the listing has no cached keys yet
	sub := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "a/b/"})
	assert.False(t, sub.FromCache)
	assert.Equal(t, []string{"a/b/y"}, sub.Keys)
}

func TestList_Recursive(t *testing.T) {
	e := newEnv(t)
	for _, k := range []string{"a", "x/1", "x/y/3"} {
		e.remote.seed(testBucket, k, "v")
	}

	res := e.run(t, KindList, Params{Bucket: testBucket})
	assert.False(t, res.FromCache)
	assert.Equal(t, []string{"a", "x/1", "x/y/3"}, res.Keys)

	res = e.run(t, KindList, Params{Bucket: testBucket})
	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"a", "x/1", "x/y/3"}, res.Keys)
}

func TestList_CachedSubfolders(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "x/1", "v")
	e.upload(t, "x/y/3", "v")
	e.upload(t, "x/y/z/4", "v")
	e.upload(t, "xx/5", "v")

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "x"})
	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"x/1"}, res.Keys)
	assert.Equal(t, []string{"x/y/"}, res.Prefixes)
	assert.Zero(t, e.remote.count("ListAllObjects"))
}

func TestList_UnknownPrefixIsEmpty(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "nope/"})
	assert.Empty(t, res.Keys)
	assert.Zero(t, res.Count)
	assert.False(t, res.FromCache)
}

func TestList_RemoteFailure(t *testing.T) {
	e := newEnv(t)
	e.remote.fail("ListAllObjects", errors.NewError(errors.ErrCodeThrottled, "slow down"))

	_, err := e.reg.Execute(context.Background(), KindList, Params{Bucket: testBucket, Prefix: "a"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeThrottled))
}

func TestList_Delimiter(t *testing.T) {
	e := newEnv(t)
	e.run(t, KindUpload, Params{Bucket: testBucket, Key: "a|b|c.txt", Delimiter: "|", Body: stringsReader("x")})

	keys, err := e.cache.WithSeparator("|").List(context.Background(), testBucket, "a|b|")
	require.NoError(t, err)
	assert.Equal(t, []string{"a|b|c.txt"}, keys)

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "a|b", Delimiter: "|"})
	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"a|b|c.txt"}, res.Keys)
}

func TestList_ConcurrentMissesShareOneRemoteCall(t *testing.T) {
	e := newEnv(t, withoutCache)
	e.remote.seed(testBucket, "x/1", "v")
	gate := make(chan struct{})
	e.remote.listGate = gate
	e.remote.listEntered = make(chan struct{}, 1)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.reg.Execute(context.Background(), KindList, Params{Bucket: testBucket, Prefix: "x"})
		}(i)
	}

	<-e.remote.listEntered
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"x/1"}, results[i].Keys)
	}
	assert.Equal(t, 1, e.remote.count("ListAllObjects"))
}

func TestList_Hydrate(t *testing.T) {
	e := newEnv(t, withMaxBody(8))
	e.remote.seed(testBucket, "h/small", "tiny")
	e.remote.seed(testBucket, "h/big", "0123456789abcdef")

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "h", Hydrate: true})
	require.Len(t, res.Items, 2)

	byKey := make(map[string]string)
	cached := make(map[string]bool)
	for _, item := range res.Items {
		byKey[item.Info.Key] = string(item.Body)
		cached[item.Info.Key] = item.BodyCached
	}
	assert.Equal(t, "tiny", byKey["h/small"])
	assert.True(t, cached["h/small"])
	assert.Empty(t, byKey["h/big"])
	assert.False(t, cached["h/big"])
	assert.Equal(t, 1, e.remote.count("GetObject"))

	l := e.cachedItem(t, "h/small")
	require.True(t, l.Found())
	assert.True(t, l.Item.BodyCached)

	// second pass is served entirely from the cache
	res = e.run(t, KindList, Params{Bucket: testBucket, Prefix: "h", Hydrate: true})
	assert.True(t, res.FromCache)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 1, e.remote.count("GetObject"))
}

func TestList_HydrateSkipsVanishedKeys(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "v/keep", "k")
	e.upload(t, "v/other", "g")
	require.NoError(t, e.cache.Put(context.Background(), testBucket, "v/ghost", nil, 0))

	res := e.run(t, KindList, Params{Bucket: testBucket, Prefix: "v", Hydrate: true})
	assert.Equal(t, []string{"v/ghost", "v/keep", "v/other"}, res.Keys)
	assert.Len(t, res.Items, 2)
	assert.NotContains(t, e.cachedKeys(t, "v/"), "v/ghost")
}

func TestWarm(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	for _, k := range []string{"w/1", "w/2", "z/3"} {
		e.remote.seed(testBucket, k, "body")
	}

	res := e.run(t, KindWarm, Params{Bucket: testBucket, Prefix: "w/", Hydrate: true})
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "2", res.Meta["hydrated"])

	all, err := e.cache.ListAll(ctx, testBucket)
	require.NoError(t, err)
	assert.Equal(t, []string{"w/1", "w/2"}, all)

	l := e.cachedItem(t, "w/1")
	require.True(t, l.Found())
	assert.Equal(t, "body", string(l.Item.Body))
}

func TestWarm_Errors(t *testing.T) {
	_, err := newEnv(t, withoutCache).reg.Execute(context.Background(), KindWarm, Params{Bucket: testBucket})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	e := newEnv(t)
	e.remote.seed(testBucket, "a", "v")
	e.store.down.Store(true)
	_, err = e.reg.Execute(context.Background(), KindWarm, Params{Bucket: testBucket})
	assert.True(t, errors.IsCacheUnavailable(err))
}
