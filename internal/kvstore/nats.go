package kvstore

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures DialNATS.
type NATSConfig struct {
	URL         string
	Bucket      string
	Replicas    int
	Credentials string
	TTL         TTLPolicy
	// UpdateAttempts bounds CAS retries in Update and SetIfAbsent.
	UpdateAttempts int
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

var (
	errNATSNotFound = stderrors.New("nats kv: key not found")
	errNATSConflict = stderrors.New("nats kv: revision conflict")
)

// kvBucket is the subset of a JetStream key-value bucket the store uses.
// Implementations map "not found" to errNATSNotFound and revision or
// existence conflicts to errNATSConflict.
type kvBucket interface {
	get(ctx context.Context, key string) ([]byte, uint64, error)
	put(ctx context.Context, key string, value []byte) (uint64, error)
	create(ctx context.Context, key string, value []byte) (uint64, error)
	update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	delete(ctx context.Context, key string) error
	keys(ctx context.Context) ([]string, error)
}

// NATSStore implements Store on a JetStream KV bucket. JetStream only
// supports a bucket-wide TTL, so the bucket is created with the maximum TTL
// and every value carries its own expiry, checked on read. Update and
// SetIfAbsent use revision compare-and-swap.
type NATSStore struct {
	bucket   kvBucket
	conn     *nats.Conn
	ttl      TTLPolicy
	attempts int
	now      func() time.Time
	logger   *slog.Logger
}

// DialNATS connects to NATS and creates or updates the KV bucket.
func DialNATS(ctx context.Context, config NATSConfig, logger *slog.Logger) (*NATSStore, error) {
	if config.TTL.Max <= 0 {
		config.TTL = DefaultTTLPolicy()
	}
	opts := []nats.Option{nats.Name("bucketcache")}
	if config.Credentials != "" {
		opts = append(opts, nats.UserCredentials(config.Credentials))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, unavailable("nats", "connect", "", fmt.Errorf("connect %s: %w", config.URL, err))
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, unavailable("nats", "connect", "", fmt.Errorf("jetstream: %w", err))
	}

	replicas := config.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "bucketcache object cache",
		TTL:         config.TTL.Max,
		History:     1,
		Replicas:    replicas,
	})
	if err != nil {
		nc.Close()
		return nil, unavailable("nats", "connect", "", fmt.Errorf("key-value bucket %s: %w", config.Bucket, err))
	}

	store := newNATSStore(jsBucket{kv: kv}, config, logger)
	store.conn = nc
	store.logger.Info("connected to nats", "url", config.URL, "bucket", config.Bucket)
	return store, nil
}

// NewNATSStore wraps an existing JetStream key-value bucket.
func NewNATSStore(kv jetstream.KeyValue, config NATSConfig, logger *slog.Logger) *NATSStore {
	return newNATSStore(jsBucket{kv: kv}, config, logger)
}

func newNATSStore(bucket kvBucket, config NATSConfig, logger *slog.Logger) *NATSStore {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL.Max <= 0 {
		config.TTL = DefaultTTLPolicy()
	}
	if config.UpdateAttempts <= 0 {
		config.UpdateAttempts = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &NATSStore{
		bucket:   bucket,
		ttl:      config.TTL,
		attempts: config.UpdateAttempts,
		now:      config.Now,
		logger:   logger.With("component", "kvstore", "backend", "nats"),
	}
}

func (s *NATSStore) Get(ctx context.Context, key string) Result {
	raw, _, err := s.bucket.get(ctx, key)
	if stderrors.Is(err, errNATSNotFound) {
		return Miss()
	}
	if err != nil {
		return Failed(unavailable("nats", "get", key, err))
	}
	value, live := s.unwrap(raw)
	if !live {
		return Miss()
	}
	return Hit(value)
}

func (s *NATSStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.bucket.put(ctx, key, s.wrap(value, ttl))
	return unavailable("nats", "set", key, err)
}

// SetIfAbsent creates the key, or takes over a key whose value has expired
// but which JetStream has not yet aged out.
func (s *NATSStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	wrote := false
	err := s.Update(ctx, key, ttl, func(_ []byte, found bool) ([]byte, error) {
		wrote = false
		if found {
			return nil, ErrSkipUpdate
		}
		wrote = true
		return value, nil
	})
	if err != nil {
		return false, err
	}
	return wrote, nil
}

func (s *NATSStore) Exists(ctx context.Context, key string) (bool, error) {
	res := s.Get(ctx, key)
	if res.Status == Unavailable {
		return false, res.Err
	}
	return res.Status == Found, nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.delete(ctx, key)
	if stderrors.Is(err, errNATSNotFound) {
		return nil
	}
	return unavailable("nats", "delete", key, err)
}

// KeysMatching lists the bucket's keys and filters them client side.
func (s *NATSStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	all, err := s.bucket.keys(ctx)
	if err != nil {
		return nil, unavailable("nats", "keys", pattern, err)
	}
	var keys []string
	for _, k := range all {
		if Matches(pattern, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update reads the current revision and writes with compare-and-swap,
// retrying when another writer got there first.
func (s *NATSStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		raw, revision, err := s.bucket.get(ctx, key)
		exists := true
		if stderrors.Is(err, errNATSNotFound) {
			exists, revision = false, 0
		} else if err != nil {
			return unavailable("nats", "update", key, err)
		}

		var current []byte
		found := false
		if exists {
			current, found = s.unwrap(raw)
			if !found {
				current = nil
			}
		}

		next, err := fn(current, found)
		if stderrors.Is(err, ErrSkipUpdate) {
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case next == nil && !exists:
			return nil
		case next == nil:
			// Write an already-expired value under CAS rather than an
			// unconditional delete, so a concurrent writer is not lost.
			_, err = s.bucket.update(ctx, key, s.wrapExpired(), revision)
		case !exists:
			_, err = s.bucket.create(ctx, key, s.wrap(next, ttl))
		default:
			_, err = s.bucket.update(ctx, key, s.wrap(next, ttl), revision)
		}

		if err == nil {
			return nil
		}
		if !stderrors.Is(err, errNATSConflict) {
			return unavailable("nats", "update", key, err)
		}
		s.logger.Debug("update conflict, retrying", "key", key, "attempt", attempt)
	}
	return conflict("nats", key, s.attempts)
}

func (s *NATSStore) Close() error {
	if s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}

// Values are stored as an 8-byte big-endian expiry (unix nanoseconds)
// followed by the payload.
const envelopeHeader = 8

func (s *NATSStore) wrap(value []byte, ttl time.Duration) []byte {
	out := make([]byte, envelopeHeader+len(value))
	expiresAt := s.now().Add(s.ttl.Clamp(ttl)).UnixNano()
	binary.BigEndian.PutUint64(out[:envelopeHeader], uint64(expiresAt))
	copy(out[envelopeHeader:], value)
	return out
}

func (s *NATSStore) wrapExpired() []byte {
	return make([]byte, envelopeHeader)
}

func (s *NATSStore) unwrap(raw []byte) ([]byte, bool) {
	if len(raw) < envelopeHeader {
		return nil, false
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[:envelopeHeader]))
	if s.now().UnixNano() >= expiresAt {
		return nil, false
	}
	return raw[envelopeHeader:], true
}

// jsBucket adapts jetstream.KeyValue to kvBucket.
type jsBucket struct {
	kv jetstream.KeyValue
}

func (b jsBucket) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, translateNATSError(err)
	}
	return entry.Value(), entry.Revision(), nil
}

func (b jsBucket) put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Put(ctx, key, value)
	return rev, translateNATSError(err)
}

func (b jsBucket) create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Create(ctx, key, value)
	return rev, translateNATSError(err)
}

func (b jsBucket) update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := b.kv.Update(ctx, key, value, revision)
	return rev, translateNATSError(err)
}

func (b jsBucket) delete(ctx context.Context, key string) error {
	return translateNATSError(b.kv.Delete(ctx, key))
}

func (b jsBucket) keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if stderrors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, translateNATSError(err)
}

func translateNATSError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return fmt.Errorf("%w: %v", errNATSNotFound, err)
	}
	if stderrors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("%w: %v", errNATSConflict, err)
	}
	// JetStream reports a stale revision as an API error with code 10071.
	msg := err.Error()
	if strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "10071") {
		return fmt.Errorf("%w: %v", errNATSConflict, err)
	}
	return err
}
