package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Addr: "127.0.0.1:0", Path: "/metrics", Namespace: "test"}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v", err)
		}
		if c.config.Namespace != "bucketcache" || c.config.Path != "/metrics" {
			t.Errorf("defaults = %+v", c.config)
		}
		if c.Registry() == nil {
			t.Error("Registry() is nil for enabled collector")
		}
	})

	t.Run("disabled collector records nothing", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector error = %v", err)
		}
		c.RecordCacheLookup("get", ResultFound)
		c.RecordRemoteOperation("put", time.Millisecond, 10, nil)
		if c.Registry() != nil {
			t.Error("Registry() should be nil when disabled")
		}
		if len(c.Snapshot()) != 0 {
			t.Error("Snapshot() should be empty when disabled")
		}
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector = %v", err)
		}
	})

	t.Run("nil collector is safe", func(t *testing.T) {
		var c *Collector
		c.RecordCacheLookup("get", ResultNotFound)
		c.RecordCacheWrite("put", nil)
		c.RecordInconsistency("collision")
		c.SetBreakerState("cache", 1)
		c.RecordRemoteOperation("get", time.Millisecond, 0, nil)
		c.RecordCommand("upload", time.Millisecond, nil)
		if err := c.Stop(context.Background()); err != nil {
			t.Errorf("Stop() = %v", err)
		}
	})
}

func TestCollectorCounters(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordCacheLookup("get", ResultFound)
	c.RecordCacheLookup("get", ResultFound)
	c.RecordCacheLookup("get", ResultUnavailable)
	c.RecordCacheWrite("put", errors.New("boom"))
	c.RecordInconsistency("collision")
	c.SetBreakerState("cache", 2)
	c.RecordCommand("upload", 5*time.Millisecond, nil)

	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("get", ResultFound)); got != 2 {
		t.Errorf("found lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("get", ResultUnavailable)); got != 1 {
		t.Errorf("unavailable lookups = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheWrites.WithLabelValues("put", "error")); got != 1 {
		t.Errorf("failed writes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheInconsistent.WithLabelValues("collision")); got != 1 {
		t.Errorf("inconsistencies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.breakerState.WithLabelValues("cache")); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.commands.WithLabelValues("upload", "success")); got != 1 {
		t.Errorf("commands = %v, want 1", got)
	}
}

func TestCollectorRemoteSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordRemoteOperation("put_object", 10*time.Millisecond, 100, nil)
	c.RecordRemoteOperation("put_object", 30*time.Millisecond, 300, errors.New("denied"))

	snap := c.Snapshot()
	m, ok := snap["put_object"]
	if !ok {
		t.Fatal("put_object missing from snapshot")
	}
	if m.Count != 2 || m.Errors != 1 || m.TotalBytes != 400 {
		t.Errorf("snapshot = %+v", m)
	}
	if m.AvgDuration() != 20*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 20ms", m.AvgDuration())
	}
	if got := testutil.ToFloat64(c.remoteBytes.WithLabelValues("put_object")); got != 400 {
		t.Errorf("remote bytes = %v, want 400", got)
	}

	c.ResetSnapshot()
	if len(c.Snapshot()) != 0 {
		t.Error("ResetSnapshot did not clear operations")
	}
}

func TestCollectorHandler(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.RecordCacheLookup("list", ResultNotFound)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `test_cache_lookups_total{op="list",result="not_found"} 1`) {
		t.Errorf("metrics output missing lookup counter:\n%s", body)
	}
}

func TestCollectorStartStop(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
