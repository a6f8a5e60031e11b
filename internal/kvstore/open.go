package kvstore

import (
	"context"
	"log/slog"

	"github.com/objectfs/bucketcache/internal/circuit"
	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/pkg/errors"
)

// Open builds the configured backend and wraps it in a Guarded store.
func Open(ctx context.Context, cfg config.CacheConfig, collector *metrics.Collector, logger *slog.Logger) (*Guarded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := TTLPolicy{Default: cfg.DefaultTTL, Max: cfg.MaxTTL}
	if ttl.Max <= 0 {
		ttl = DefaultTTLPolicy()
	}

	var (
		inner Store
		err   error
	)
	switch cfg.Backend {
	case "", config.BackendMemory:
		inner = NewMemoryStore(MemoryConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			CleanupInterval: cfg.Memory.CleanupInterval,
			TTL:             ttl,
		})
	case config.BackendRedis:
		inner, err = DialRedis(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      ttl,
		}, logger)
	case config.BackendNATS:
		inner, err = DialNATS(ctx, NATSConfig{
			URL:         cfg.NATS.URL,
			Bucket:      cfg.NATS.Bucket,
			Replicas:    cfg.NATS.Replicas,
			Credentials: cfg.NATS.Credentials,
			TTL:         ttl,
		}, logger)
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unknown cache backend").
			WithComponent("kvstore").
			WithContext("backend", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	guard := GuardConfig{
		Timeout: cfg.OpTimeout,
		Metrics: collector,
		Logger:  logger,
	}
	if cfg.CircuitBreaker.Enabled {
		guard.Breaker = NewBreaker(cfg.CircuitBreaker, collector, logger)
	}

	logger.Info("cache backend ready", "backend", backendName(cfg.Backend),
		"default_ttl", ttl.Default, "max_ttl", ttl.Max, "breaker", cfg.CircuitBreaker.Enabled)
	return NewGuarded(inner, guard), nil
}

// NewBreaker builds the cache circuit breaker and publishes its state.
func NewBreaker(cfg config.CircuitBreakerConfig, collector *metrics.Collector, logger *slog.Logger) *circuit.CircuitBreaker {
	threshold := uint32(0)
	if cfg.FailureThreshold > 0 {
		threshold = uint32(cfg.FailureThreshold)
	}
	cb := circuit.NewCircuitBreaker("cache", circuit.Config{
		MaxRequests:      cfg.MaxRequests,
		Timeout:          cfg.Timeout,
		FailureThreshold: threshold,
		IsSuccessful:     BreakerIsSuccessful,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			collector.SetBreakerState(name, int(to))
		},
	})
	collector.SetBreakerState(cb.Name(), int(cb.State()))
	return cb
}

func backendName(backend string) string {
	if backend == "" {
		return config.BackendMemory
	}
	return backend
}
