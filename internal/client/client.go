package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/bucketcache/internal/cache"
	"github.com/objectfs/bucketcache/internal/command"
	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/internal/kvstore"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/internal/storage/s3"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/health"
	"github.com/objectfs/bucketcache/pkg/types"
	"github.com/objectfs/bucketcache/pkg/utils"
)

// Client wires the configured remote store, cache and command registry
// together. It is built once and shared; every method is safe for
// concurrent use.
type Client struct {
	config   *config.Configuration
	logger   *slog.Logger
	metrics  *metrics.Collector
	cache    *cache.ObjectCache
	remote   types.RemoteStore
	registry *command.Registry
	health   *health.Tracker

	// closers run in reverse order on Stop.
	closers []func(context.Context) error
}

// ComponentRemote names the remote store in health reports.
const ComponentRemote = "remote"

// Option overrides a component New would otherwise build from the
// configuration.
type Option func(*options)

type options struct {
	logger *slog.Logger
	remote types.RemoteStore
	store  kvstore.Store
}

// WithLogger uses logger instead of one built from global settings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRemote uses remote instead of an S3 backend.
func WithRemote(remote types.RemoteStore) Option {
	return func(o *options) { o.remote = remote }
}

// WithStore backs the cache with store instead of the configured backend.
// It is ignored when the cache is disabled.
func WithStore(store kvstore.Store) Option {
	return func(o *options) { o.store = store }
}

// New creates a client from cfg.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid configuration").
			WithComponent("client").
			WithCause(err)
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	c := &Client{config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.closeAll(context.Background())
		}
	}()

	if err := c.initLogger(o.logger); err != nil {
		return nil, err
	}
	c.initHealth()
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	if err := c.initCache(ctx, o.store); err != nil {
		return nil, err
	}
	if err := c.initRemote(ctx, o.remote); err != nil {
		return nil, err
	}

	registry, err := command.NewRegistry(command.Deps{
		Remote:  c.remote,
		Cache:   c.cache,
		Naming:  cfg.Naming,
		TTL:     cfg.Cache.DefaultTTL,
		Metrics: c.metrics,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.registry = registry

	ok = true
	return c, nil
}

func (c *Client) initLogger(logger *slog.Logger) error {
	if logger == nil {
		l, closer, err := utils.SetupLogger(utils.LoggerOptions{
			Level:  c.config.Global.LogLevel,
			Format: c.config.Global.LogFormat,
			File:   c.config.Global.LogFile,
		})
		if err != nil {
			return errors.NewError(errors.ErrCodeInvalidConfig, "failed to set up logging").
				WithComponent("client").
				WithCause(err)
		}
		logger = l
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}
	c.logger = logger
	return nil
}

func (c *Client) initHealth() {
	c.health = health.NewTracker(health.DefaultConfig())
	c.health.Register(ComponentRemote)
	c.health.OnStateChange(func(component string, from, to health.State, err error) {
		if to == health.StateHealthy {
			c.logger.Info("component recovered", "component", component, "from", from.String())
			return
		}
		c.logger.Warn("component health changed",
			"component", component, "from", from.String(), "to", to.String(), "error", err)
	})
}

func (c *Client) initMetrics() error {
	m := c.config.Monitoring.Metrics
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   m.Enabled,
		Addr:      m.Addr,
		Path:      m.Path,
		Namespace: m.Namespace,
	}, c.logger)
	if err != nil {
		return err
	}
	c.metrics = collector
	c.closers = append(c.closers, collector.Stop)
	return nil
}

func (c *Client) initCache(ctx context.Context, store kvstore.Store) error {
	cc := c.config.Cache
	if !cc.Enabled {
		c.logger.Info("cache disabled, commands go straight to the remote store")
		return nil
	}

	if store == nil {
		guarded, err := kvstore.Open(ctx, cc, c.metrics, c.logger)
		if err != nil {
			return err
		}
		store = guarded
	}
	c.closers = append(c.closers, func(context.Context) error { return store.Close() })

	maxBody, err := utils.ParseBytes(cc.MaxItemBodySize)
	if err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "invalid max item body size").
			WithComponent("client").
			WithCause(err)
	}
	objects, err := cache.New(store, cache.Config{
		Namespace:       cc.Namespace,
		Separator:       c.config.Naming.Separator,
		TTL:             kvstore.TTLPolicy{Default: cc.DefaultTTL, Max: cc.MaxTTL},
		Compression:     cc.Compression,
		MaxItemBodySize: maxBody,
	}, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.cache = objects
	return nil
}

func (c *Client) initRemote(ctx context.Context, remote types.RemoteStore) error {
	if remote == nil {
		s3cfg, err := s3.FromSettings(c.config.Storage.S3)
		if err != nil {
			return err
		}
		backend, err := s3.NewBackend(ctx, s3cfg, c.metrics, c.logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { return backend.Close() })
		remote = backend
	}
	c.remote = remote
	return nil
}

// Start serves the metrics endpoint when metrics are enabled.
func (c *Client) Start(ctx context.Context) error {
	if err := c.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	c.logger.Info("client started",
		"cache", c.cache != nil,
		"backend", c.config.Cache.Backend,
		"separator", c.config.Naming.Separator,
		"encode_keys", c.config.Naming.EncodeKeys)
	return nil
}

// Stop releases the cache store, the remote store and the metrics server.
// The client must not be used afterwards.
func (c *Client) Stop(ctx context.Context) error {
	c.logger.Info("stopping client")
	return c.closeAll(ctx)
}

func (c *Client) closeAll(ctx context.Context) error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Execute runs a command.
func (c *Client) Execute(ctx context.Context, kind command.Kind, p command.Params) (*command.Result, error) {
	res, err := c.registry.Execute(ctx, kind, p)
	c.record(err)
	return res, err
}

// record feeds a command outcome into the remote store's health. Errors
// that say nothing about the store, such as a missing key, leave it as is.
func (c *Client) record(err error) {
	switch {
	case err == nil:
		c.health.RecordSuccess(ComponentRemote)
	case health.Counts(err):
		c.health.RecordError(ComponentRemote, err)
	}
}

// ExecuteNamed runs the command called name with parameters given as
// strings.
func (c *Client) ExecuteNamed(ctx context.Context, name string, values map[string]string) (*command.Result, error) {
	kind, err := command.ParseKind(name)
	if err != nil {
		return nil, err
	}
	p, err := command.FromMap(values)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, kind, p)
}

// Health returns the overall state and a snapshot of every tracked
// component.
func (c *Client) Health() (health.State, []health.ComponentHealth) {
	return c.health.Overall(), c.health.Components()
}

// Registry returns the command registry.
func (c *Client) Registry() *command.Registry { return c.registry }

// Cache returns the object cache, nil when caching is disabled.
func (c *Client) Cache() *cache.ObjectCache { return c.cache }

// Metrics returns the metrics collector.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Configuration { return c.config }
