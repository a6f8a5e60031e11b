package kvstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures DialRedis.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	TTL      TTLPolicy
	// UpdateAttempts bounds optimistic transaction retries in Update.
	UpdateAttempts int
}

// RedisStore implements Store on Redis using GET, SET EX, SET NX EX, DEL,
// EXISTS and SCAN MATCH. Update uses WATCH/MULTI.
type RedisStore struct {
	client   redis.UniversalClient
	ttl      TTLPolicy
	attempts int
	logger   *slog.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, config RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL.Max <= 0 {
		config.TTL = DefaultTTLPolicy()
	}
	if config.UpdateAttempts <= 0 {
		config.UpdateAttempts = 10
	}
	return &RedisStore{
		client:   client,
		ttl:      config.TTL,
		attempts: config.UpdateAttempts,
		logger:   logger.With("component", "kvstore", "backend", "redis"),
	}
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, config RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Username: config.Username,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("redis", "connect", "", fmt.Errorf("ping %s: %w", config.Addr, err))
	}
	store := NewRedisStore(client, config, logger)
	store.logger.Info("connected to redis", "addr", config.Addr, "db", config.DB)
	return store, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) Result {
	val, err := s.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return Miss()
	}
	if err != nil {
		return Failed(unavailable("redis", "get", key, err))
	}
	return Hit(val)
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return unavailable("redis", "set", key, s.client.Set(ctx, key, value, s.ttl.Clamp(ttl)).Err())
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, s.ttl.Clamp(ttl)).Result()
	if err != nil {
		return false, unavailable("redis", "set_if_absent", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("redis", "exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return unavailable("redis", "delete", key, s.client.Del(ctx, key).Err())
}

// KeysMatching walks the keyspace with SCAN rather than KEYS so a large
// keyspace does not block the server.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisPattern(pattern), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("redis", "keys", pattern, err)
	}
	return keys, nil
}

// Update retries the WATCH/MULTI transaction when another client modifies
// key between the read and the write.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	ttl = s.ttl.Clamp(ttl)

	for attempt := 1; attempt <= s.attempts; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			found := true
			if stderrors.Is(err, redis.Nil) {
				found, current = false, nil
			} else if err != nil {
				return err
			}

			next, err := fn(current, found)
			if err != nil {
				fnErr = err
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, next, ttl)
				}
				return nil
			})
			return err
		}, key)

		if fnErr != nil {
			if stderrors.Is(fnErr, ErrSkipUpdate) {
				return nil
			}
			return fnErr
		}
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, redis.TxFailedErr) {
			return unavailable("redis", "update", key, err)
		}
		s.logger.Debug("update conflict, retrying", "key", key, "attempt", attempt)
	}
	return conflict("redis", key, s.attempts)
}

// redisPattern escapes glob metacharacters in the literal part of pattern.
func redisPattern(pattern string) string {
	prefix, isPrefix := PatternPrefix(pattern)
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	if isPrefix {
		b.WriteByte('*')
	}
	return b.String()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
