package command

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketcache/internal/cache"
	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/internal/metrics"
)

const testBucket = "media"

type testEnv struct {
	remote *fakeRemote
	store  *switchableStore
	cache  *cache.ObjectCache
	reg    *Registry
}

type envOptions struct {
	naming  config.NamingConfig
	cache   cache.Config
	noCache bool
	metrics *metrics.Collector
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()
	o := envOptions{naming: config.NewDefault().Naming}
	for _, fn := range opts {
		fn(&o)
	}

	env := &testEnv{remote: newFakeRemote(testBucket, "backup")}
	deps := Deps{
		Remote:  env.remote,
		Naming:  o.naming,
		Metrics: o.metrics,
		Logger:  discardLogger(),
	}
	if !o.noCache {
		env.store = &switchableStore{Store: kvstore.NewMemoryStore(kvstore.MemoryConfig{})}
		c, err := cache.New(env.store, o.cache, nil, discardLogger())
		require.NoError(t, err)
		env.cache = c
		deps.Cache = c
	}

	reg, err := NewRegistry(deps)
	require.NoError(t, err)
	env.reg = reg
	return env
}

func withoutCache(o *envOptions) { o.noCache = true }

func withEncoding(o *envOptions) { o.naming.EncodeKeys = true }

func withMaxBody(n int64) func(*envOptions) {
	return func(o *envOptions) { o.cache.MaxItemBodySize = n }
}

func (e *testEnv) run(t *testing.T, kind Kind, p Params) *Result {
	t.Helper()
	res, err := e.reg.Execute(context.Background(), kind, p)
	require.NoError(t, err, "%s", kind)
	require.NotNil(t, res)
	return res
}

func (e *testEnv) upload(t *testing.T, key, body string) {
	t.Helper()
	e.run(t, KindUpload, Params{Bucket: testBucket, Key: key, Body: stringsReader(body), Size: int64(len(body))})
}

func (e *testEnv) cachedKeys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := e.cache.List(context.Background(), testBucket, prefix)
	require.NoError(t, err)
	return keys
}

func (e *testEnv) cachedItem(t *testing.T, key string) cache.Lookup {
	t.Helper()
	return e.cache.Get(context.Background(), testBucket, key)
}
