package command

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/objectfs/bucketcache/internal/cache"
	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// Command is a single named operation over the remote store and the cache.
type Command interface {
	Kind() Kind
	// Validate checks p without touching the cache or the remote store.
	Validate(p Params) error
	Execute(ctx context.Context, p Params) (*Result, error)
}

// Deps are the collaborators shared by every command.
type Deps struct {
	Remote types.RemoteStore
	// Cache is optional; without it every command goes to the remote store.
	Cache  *cache.ObjectCache
	Naming config.NamingConfig
	// TTL is the cache TTL used when a call does not set one.
	TTL     time.Duration
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Registry binds every Kind to its handler.
type Registry struct {
	handlers map[Kind]Command
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewRegistry builds the handler for every kind over deps.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Remote == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "remote store is required").
			WithComponent("command")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Naming.Separator == "" {
		deps.Naming.Separator = naming.DefaultSeparator
	}

	b := &base{
		remote:  deps.Remote,
		cache:   deps.Cache,
		naming:  deps.Naming,
		ttl:     deps.TTL,
		flight:  &singleflight.Group{},
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "command"),
	}

	r := &Registry{
		handlers: make(map[Kind]Command),
		metrics:  deps.Metrics,
		logger:   b.logger,
	}
	for _, h := range []Command{
		&uploadCommand{b},
		&downloadCommand{b},
		&headCommand{b},
		&existsCommand{b},
		&deleteCommand{b},
		&deleteFolderCommand{b},
		&copyCommand{b},
		&moveCommand{b},
		&batchCopyCommand{b},
		&listCommand{b},
		&listBucketsCommand{b},
		&createBucketCommand{b},
		&deleteBucketCommand{b},
		&clearBucketCommand{b},
		&presignCommand{b},
		&setPolicyCommand{b},
		&getPolicyCommand{b},
		&setLifecycleCommand{b},
		&setVersioningCommand{b},
		&setAccelerationCommand{b},
		&warmCommand{b},
	} {
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

// Get returns the handler for kind.
func (r *Registry) Get(kind Kind) (Command, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Execute validates p and runs the handler for kind.
func (r *Registry) Execute(ctx context.Context, kind Kind, p Params) (*Result, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnknownCommand, "no handler for command").
			WithComponent("command").
			WithContext("command", kind.String())
	}

	start := time.Now()
	if err := h.Validate(p); err != nil {
		r.metrics.RecordCommand(kind.String(), time.Since(start), err)
		return nil, err
	}

	res, err := h.Execute(ctx, p)
	r.metrics.RecordCommand(kind.String(), time.Since(start), err)
	if err != nil {
		r.logger.Warn("command failed", "command", kind.String(), "bucket", p.Bucket, "error", err)
		if res != nil {
			res.Success = false
		}
		return res, err
	}
	if kind.Mutates() {
		r.logger.Info("command completed", "command", kind.String(), "bucket", p.Bucket, "duration", time.Since(start))
	} else {
		r.logger.Debug("command completed", "command", kind.String(), "bucket", p.Bucket, "duration", time.Since(start))
	}
	return res, nil
}

// ExecuteNamed resolves name with ParseKind and executes it.
func (r *Registry) ExecuteNamed(ctx context.Context, name string, p Params) (*Result, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, kind, p)
}
