package kvstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/objectfs/bucketcache/internal/circuit"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/pkg/errors"
)

// GuardConfig configures a Guarded store.
type GuardConfig struct {
	// Timeout bounds every backend call. Zero disables it.
	Timeout time.Duration
	// Breaker, when set, short-circuits calls while the backend is failing.
	Breaker *circuit.CircuitBreaker
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Guarded wraps a Store with a per-call timeout, an optional circuit
// breaker, metrics and logging. A timed out or short-circuited call is
// reported as Unavailable, never as a miss.
type Guarded struct {
	inner   Store
	timeout time.Duration
	breaker *circuit.CircuitBreaker
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewGuarded wraps inner.
func NewGuarded(inner Store, config GuardConfig) *Guarded {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{
		inner:   inner,
		timeout: config.Timeout,
		breaker: config.Breaker,
		metrics: config.Metrics,
		logger:  logger.With("component", "kvstore"),
	}
}

// Unwrap returns the wrapped store.
func (g *Guarded) Unwrap() Store { return g.inner }

// BreakerCounts returns the breaker's counts, or the zero
// value when no breaker is configured.
func (g *Guarded) BreakerCounts() circuit.Counts {
	if g.breaker == nil {
		return circuit.Counts{}
	}
	return g.breaker.Counts()
}

func (g *Guarded) Get(ctx context.Context, key string) Result {
	var res Result
	err := g.run(ctx, "get", key, func(ctx context.Context) error {
		res = g.inner.Get(ctx, key)
		if res.Status == Unavailable {
			return res.Err
		}
		return nil
	})
	if err != nil {
		res = Failed(err)
	}

	switch res.Status {
	case Found:
		g.metrics.RecordCacheLookup("get", metrics.ResultFound)
	case NotFound:
		g.metrics.RecordCacheLookup("get", metrics.ResultNotFound)
	default:
		g.metrics.RecordCacheLookup("get", metrics.ResultUnavailable)
	}
	return res
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := g.run(ctx, "set", key, func(ctx context.Context) error {
		return g.inner.Set(ctx, key, value, ttl)
	})
	g.metrics.RecordCacheWrite("set", err)
	return err
}

func (g *Guarded) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var wrote bool
	err := g.run(ctx, "set_if_absent", key, func(ctx context.Context) error {
		var err error
		wrote, err = g.inner.SetIfAbsent(ctx, key, value, ttl)
		return err
	})
	g.metrics.RecordCacheWrite("set_if_absent", err)
	if err != nil {
		return false, err
	}
	return wrote, nil
}

func (g *Guarded) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := g.run(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		found, err = g.inner.Exists(ctx, key)
		return err
	})
	if err != nil {
		g.metrics.RecordCacheLookup("exists", metrics.ResultUnavailable)
		return false, err
	}
	if found {
		g.metrics.RecordCacheLookup("exists", metrics.ResultFound)
	} else {
		g.metrics.RecordCacheLookup("exists", metrics.ResultNotFound)
	}
	return found, nil
}

func (g *Guarded) Delete(ctx context.Context, key string) error {
	err := g.run(ctx, "delete", key, func(ctx context.Context) error {
		return g.inner.Delete(ctx, key)
	})
	g.metrics.RecordCacheWrite("delete", err)
	return err
}

func (g *Guarded) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := g.run(ctx, "keys", pattern, func(ctx context.Context) error {
		var err error
		keys, err = g.inner.KeysMatching(ctx, pattern)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (g *Guarded) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	err := g.run(ctx, "update", key, func(ctx context.Context) error {
		return g.inner.Update(ctx, key, ttl, fn)
	})
	g.metrics.RecordCacheWrite("update", err)
	return err
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}

func (g *Guarded) run(ctx context.Context, op, key string, fn func(context.Context) error) error {
	call := func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		err := fn(ctx)
		if err == nil && ctx.Err() != nil {
			// The backend ignored the deadline but returned late.
			err = ctx.Err()
		}
		if err != nil && isContextError(err) {
			err = errors.NewError(errors.ErrCodeCacheUnavailable, "cache backend did not answer in time").
				WithComponent("kvstore").
				WithOperation(op).
				WithContext("key", key).
				WithCause(err)
		}
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, call)
		if stderrors.Is(err, circuit.ErrOpenState) || stderrors.Is(err, circuit.ErrTooManyRequests) {
			err = unavailable("guard", op, key, err)
		}
	} else {
		err = call(ctx)
	}

	if errors.IsCacheUnavailable(err) {
		g.logger.Warn("cache backend unavailable", "operation", op, "key", key, "error", err)
	}
	return err
}

func isContextError(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)
}

// BreakerIsSuccessful counts only backend unavailability against the
// breaker. Misses, conflicts and callback errors are healthy answers.
func BreakerIsSuccessful(err error) bool {
	return err == nil || !errors.IsCacheUnavailable(err)
}
