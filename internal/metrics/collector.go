package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup results reported by the cache.
const (
	ResultFound       = "found"
	ResultNotFound    = "not_found"
	ResultUnavailable = "unavailable"
)

// Collector records cache, remote store and command metrics on a private
// Prometheus registry. A nil or disabled Collector accepts every call and
// records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	cacheLookups      *prometheus.CounterVec
	cacheWrites       *prometheus.CounterVec
	cacheInconsistent *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	remoteOps         *prometheus.CounterVec
	remoteDuration    *prometheus.HistogramVec
	remoteBytes       *prometheus.CounterVec
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics tracks remote operations of one kind
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalBytes    int64         `json:"total_bytes"`
	LastOperation time.Time     `json:"last_operation"`
}

// AvgDuration returns the mean duration of the recorded operations.
func (m OperationMetrics) AvgDuration() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return time.Duration(int64(m.TotalDuration) / m.Count)
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "bucketcache",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		config:     config,
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves the metrics endpoint until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"bucketcache-metrics"}`))
	})

	listener, err := net.Listen("tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Addr, err)
	}

	c.mu.Lock()
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server error", "error", err)
		}
	}()
	c.logger.Info("metrics server started", "addr", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheLookup counts a cache read by operation and result.
func (c *Collector) RecordCacheLookup(op, result string) {
	if !c.enabled() {
		return
	}
	c.cacheLookups.WithLabelValues(op, result).Inc()
}

// RecordCacheWrite counts a cache mutation.
func (c *Collector) RecordCacheWrite(op string, err error) {
	if !c.enabled() {
		return
	}
	c.cacheWrites.WithLabelValues(op, status(err)).Inc()
}

// RecordInconsistency counts a detected cache index inconsistency.
func (c *Collector) RecordInconsistency(kind string) {
	if !c.enabled() {
		return
	}
	c.cacheInconsistent.WithLabelValues(kind).Inc()
}

// SetBreakerState publishes a circuit breaker state (0 closed, 1 open,
// 2 half-open).
func (c *Collector) SetBreakerState(name string, state int) {
	if !c.enabled() {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRemoteOperation records one call to the remote store.
func (c *Collector) RecordRemoteOperation(operation string, duration time.Duration, bytes int64, err error) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalBytes += bytes
	if err != nil {
		m.Errors++
	}
	m.LastOperation = time.Now()
	c.mu.Unlock()

	c.remoteOps.WithLabelValues(operation, status(err)).Inc()
	c.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if bytes > 0 {
		c.remoteBytes.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordCommand records one command execution.
func (c *Collector) RecordCommand(command string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.commands.WithLabelValues(command, status(err)).Inc()
	c.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// Snapshot returns a copy of the per-operation remote metrics.
func (c *Collector) Snapshot() map[string]OperationMetrics {
	out := make(map[string]OperationMetrics)
	if !c.enabled() {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetSnapshot clears the per-operation remote metrics.
func (c *Collector) ResetSnapshot() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "cache", Name: "lookups_total",
		Help: "Cache lookups by operation and result",
	}, []string{"op", "result"})

	c.cacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "cache", Name: "writes_total",
		Help: "Cache mutations by operation and status",
	}, []string{"op", "status"})

	c.cacheInconsistent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "cache", Name: "inconsistencies_total",
		Help: "Detected cache index inconsistencies",
	}, []string{"kind"})

	c.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "cache", Name: "circuit_state",
		Help: "Cache backend circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	c.remoteOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "remote", Name: "operations_total",
		Help: "Remote store operations by operation and status",
	}, []string{"operation", "status"})

	c.remoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "remote", Name: "operation_duration_seconds",
		Help:    "Duration of remote store operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"operation"})

	c.remoteBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "remote", Name: "bytes_total",
		Help: "Bytes transferred to or from the remote store",
	}, []string{"operation"})

	c.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "command", Name: "executions_total",
		Help: "Command executions by command and status",
	}, []string{"command", "status"})

	c.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "command", Name: "duration_seconds",
		Help:    "Duration of command executions",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"command"})
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.cacheLookups,
		c.cacheWrites,
		c.cacheInconsistent,
		c.breakerState,
		c.remoteOps,
		c.remoteDuration,
		c.remoteBytes,
		c.commands,
		c.commandDuration,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}
