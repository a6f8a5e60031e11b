package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// fakeRemote is an in-memory RemoteStore. Keys listed in failKeys fail in
// DeleteObjects and CopyObjects (as sources); failNext makes the next call
// of an operation fail.
type fakeRemote struct {
	mu        sync.Mutex
	buckets   map[string]map[string]*types.Object
	policies  map[string]string
	lifecycle map[string][]types.LifecycleRule
	versioned map[string]bool
	fast      map[string]bool
	calls     map[string]int
	failNext  map[string]error
	failKeys  map[string]bool

	// listGate, when set, blocks ListAllObjects until it is closed.
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeRemote(buckets ...string) *fakeRemote {
	f := &fakeRemote{
		buckets:   make(map[string]map[string]*types.Object),
		policies:  make(map[string]string),
		lifecycle: make(map[string][]types.LifecycleRule),
		versioned: make(map[string]bool),
		fast:      make(map[string]bool),
		calls:     make(map[string]int),
		failNext:  make(map[string]error),
		failKeys:  make(map[string]bool),
	}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]*types.Object)
	}
	return f
}

var _ types.RemoteStore = (*fakeRemote)(nil)

func (f *fakeRemote) seed(bucket, key, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket][key] = &types.Object{
		Info: types.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(body)), LastModified: time.Unix(1700000000, 0).UTC()},
		Body: []byte(body),
	}
}

func (f *fakeRemote) has(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket][key]
	return ok
}

func (f *fakeRemote) keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.buckets[bucket] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// begin records a call and returns the injected failure, if any. Callers
// hold f.mu.
func (f *fakeRemote) begin(op, bucket string) error {
	f.calls[op]++
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	if bucket != "" {
		if _, ok := f.buckets[bucket]; !ok {
			return errors.NewError(errors.ErrCodeBucketNotFound, "no such bucket").WithContext("bucket", bucket)
		}
	}
	return nil
}

func notFound(bucket, key string) error {
	return errors.NewError(errors.ErrCodeObjectNotFound, "no such key").
		WithContext("bucket", bucket).
		WithContext("key", key)
}

func (f *fakeRemote) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64, opts types.PutOptions) (*types.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutObject", bucket); err != nil {
		return nil, err
	}
	info := types.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
		LastModified: time.Unix(1700000000, 0).UTC(),
		ETag:         fmt.Sprintf("%x", len(data)),
	}
	f.buckets[bucket][key] = &types.Object{Info: info, Body: data}
	return &info, nil
}

func (f *fakeRemote) GetObject(_ context.Context, bucket, key string) (*types.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetObject", bucket); err != nil {
		return nil, err
	}
	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil, notFound(bucket, key)
	}
	out := *obj
	out.Body = bytes.Clone(obj.Body)
	return &out, nil
}

func (f *fakeRemote) HeadObject(_ context.Context, bucket, key string) (*types.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("HeadObject", bucket); err != nil {
		return nil, err
	}
	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil, notFound(bucket, key)
	}
	info := obj.Info
	return &info, nil
}

func (f *fakeRemote) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteObject", bucket); err != nil {
		return err
	}
	delete(f.buckets[bucket], key)
	return nil
}

func (f *fakeRemote) DeleteObjects(_ context.Context, bucket string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteObjects", bucket); err != nil {
		return err
	}
	batch := errors.NewBatchError("DeleteObjects")
	for _, k := range keys {
		if f.failKeys[k] {
			batch.Add(k, errors.NewError(errors.ErrCodeAccessDenied, "denied"))
			continue
		}
		delete(f.buckets[bucket], k)
	}
	return batch.Err()
}

func (f *fakeRemote) ListObjects(ctx context.Context, bucket string, opts types.ListOptions) (*types.ListPage, error) {
	return f.ListAllObjects(ctx, bucket, opts)
}

func (f *fakeRemote) ListAllObjects(_ context.Context, bucket string, opts types.ListOptions) (*types.ListPage, error) {
	if f.listGate != nil {
		select {
		case f.listEntered <- struct{}{}:
		default:
		}
		<-f.listGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListAllObjects", bucket); err != nil {
		return nil, err
	}

	var keys []string
	for k := range f.buckets[bucket] {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &types.ListPage{}
	seen := make(map[string]bool)
	for _, k := range keys {
		if opts.Delimiter != "" {
			rest := k[len(opts.Prefix):]
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				cp := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					page.CommonPrefixes = append(page.CommonPrefixes, cp)
				}
				continue
			}
		}
		page.Objects = append(page.Objects, f.buckets[bucket][k].Info)
	}
	return page, nil
}

func (f *fakeRemote) CopyObject(_ context.Context, pair types.CopyPair) (*types.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyLocked(pair)
}

func (f *fakeRemote) copyLocked(pair types.CopyPair) (*types.ObjectInfo, error) {
	if err := f.begin("CopyObject", pair.Source.Bucket); err != nil {
		return nil, err
	}
	if _, ok := f.buckets[pair.Target.Bucket]; !ok {
		return nil, errors.NewError(errors.ErrCodeBucketNotFound, "no such bucket")
	}
	if f.failKeys[pair.Source.Key] {
		return nil, errors.NewError(errors.ErrCodeAccessDenied, "denied")
	}
	src, ok := f.buckets[pair.Source.Bucket][pair.Source.Key]
	if !ok {
		return nil, notFound(pair.Source.Bucket, pair.Source.Key)
	}
	info := src.Info
	info.Bucket, info.Key = pair.Target.Bucket, pair.Target.Key
	f.buckets[pair.Target.Bucket][pair.Target.Key] = &types.Object{Info: info, Body: bytes.Clone(src.Body)}
	return &info, nil
}

func (f *fakeRemote) CopyObjects(_ context.Context, pairs []types.CopyPair) ([]types.CopyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := errors.NewBatchError("CopyObjects")
	results := make([]types.CopyResult, len(pairs))
	for i, pair := range pairs {
		info, err := f.copyLocked(pair)
		results[i] = types.CopyResult{Pair: pair, Info: info, Err: err}
		batch.Add(pair.Source.String()+" -> "+pair.Target.String(), err)
	}
	return results, batch.Err()
}

func (f *fakeRemote) PresignGetObject(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PresignGetObject", bucket); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.example/%s?method=GET&expires=%d", bucket, key, int(expiry.Seconds())), nil
}

func (f *fakeRemote) PresignPutObject(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PresignPutObject", bucket); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.example/%s?method=PUT&expires=%d", bucket, key, int(expiry.Seconds())), nil
}

func (f *fakeRemote) CreateBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateBucket", ""); err != nil {
		return err
	}
	if _, ok := f.buckets[bucket]; ok {
		return errors.NewError(errors.ErrCodeBucketExists, "bucket exists")
	}
	f.buckets[bucket] = make(map[string]*types.Object)
	return nil
}

func (f *fakeRemote) DeleteBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteBucket", bucket); err != nil {
		return err
	}
	if len(f.buckets[bucket]) > 0 {
		return errors.NewError(errors.ErrCodeBucketNotEmpty, "bucket not empty")
	}
	delete(f.buckets, bucket)
	return nil
}

func (f *fakeRemote) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BucketExists", ""); err != nil {
		return false, err
	}
	_, ok := f.buckets[bucket]
	return ok, nil
}

func (f *fakeRemote) ListBuckets(context.Context) ([]types.BucketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListBuckets", ""); err != nil {
		return nil, err
	}
	var out []types.BucketInfo
	for name := range f.buckets {
		out = append(out, types.BucketInfo{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRemote) PutBucketPolicy(_ context.Context, bucket, policy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutBucketPolicy", bucket); err != nil {
		return err
	}
	f.policies[bucket] = policy
	return nil
}

func (f *fakeRemote) GetBucketPolicy(_ context.Context, bucket string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetBucketPolicy", bucket); err != nil {
		return "", err
	}
	return f.policies[bucket], nil
}

func (f *fakeRemote) DeleteBucketPolicy(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteBucketPolicy", bucket); err != nil {
		return err
	}
	delete(f.policies, bucket)
	return nil
}

func (f *fakeRemote) PutBucketLifecycle(_ context.Context, bucket string, rules []types.LifecycleRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutBucketLifecycle", bucket); err != nil {
		return err
	}
	f.lifecycle[bucket] = rules
	return nil
}

func (f *fakeRemote) PutBucketVersioning(_ context.Context, bucket string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutBucketVersioning", bucket); err != nil {
		return err
	}
	f.versioned[bucket] = enabled
	return nil
}

func (f *fakeRemote) PutBucketAcceleration(_ context.Context, bucket string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutBucketAcceleration", bucket); err != nil {
		return err
	}
	f.fast[bucket] = enabled
	return nil
}

// switchableStore reports every call as unavailable while down is set.
type switchableStore struct {
	kvstore.Store
	down atomic.Bool
}

func (s *switchableStore) err(op string) error {
	return errors.NewError(errors.ErrCodeCacheUnavailable, "cache down").WithOperation(op)
}

func (s *switchableStore) Get(ctx context.Context, key string) kvstore.Result {
	if s.down.Load() {
		return kvstore.Failed(s.err("get"))
	}
	return s.Store.Get(ctx, key)
}

func (s *switchableStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.down.Load() {
		return s.err("set")
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func (s *switchableStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.down.Load() {
		return false, s.err("set_if_absent")
	}
	return s.Store.SetIfAbsent(ctx, key, value, ttl)
}

func (s *switchableStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.down.Load() {
		return false, s.err("exists")
	}
	return s.Store.Exists(ctx, key)
}

func (s *switchableStore) Delete(ctx context.Context, key string) error {
	if s.down.Load() {
		return s.err("delete")
	}
	return s.Store.Delete(ctx, key)
}

func (s *switchableStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	if s.down.Load() {
		return nil, s.err("keys")
	}
	return s.Store.KeysMatching(ctx, pattern)
}

func (s *switchableStore) Update(ctx context.Context, key string, ttl time.Duration, fn kvstore.UpdateFunc) error {
	if s.down.Load() {
		return s.err("update")
	}
	return s.Store.Update(ctx, key, ttl, fn)
}
