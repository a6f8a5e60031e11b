// Package kvstore defines the flat key-value contract the object cache is
// built on, and its backends: an in-process LRU, Redis and NATS JetStream
// KV. None of the backends is expected to support listing or prefix queries
// beyond KeysMatching, which callers use only for sweeps.
package kvstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// Status is the outcome of a lookup.
type Status int

const (
	// NotFound means the key is absent or expired. It is not an error.
	NotFound Status = iota
	// Found means Value holds the stored bytes.
	Found
	// Unavailable means the backend could not answer; Err says why.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is a tri-state lookup result.
type Result struct {
	Status Status
	Value  []byte
	Err    error
}

// Hit returns a Found result.
func Hit(value []byte) Result { return Result{Status: Found, Value: value} }

// Miss returns a NotFound result.
func Miss() Result { return Result{Status: NotFound} }

// Failed returns an Unavailable result.
func Failed(err error) Result { return Result{Status: Unavailable, Err: err} }

// UpdateFunc computes the next value of a key from its current one. found
// is false when the key is absent. Returning a nil slice deletes the key;
// returning ErrSkipUpdate leaves it untouched.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// ErrSkipUpdate aborts an Update without writing.
var ErrSkipUpdate = stderrors.New("kvstore: skip update")

// Store is the flat key-value cache contract.
type Store interface {
	Get(ctx context.Context, key string) Result
	// Set always overwrites.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent writes only when the key is absent and reports whether it
	// wrote.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// KeysMatching returns keys matching a glob of the form "prefix*" (or
	// an exact key). Expired keys may be included.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	// Update performs an atomic read-modify-write of key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Close() error
}

// TTLPolicy bounds the lifetime of every entry.
type TTLPolicy struct {
	Default time.Duration
	Max     time.Duration
}

// DefaultTTLPolicy is 180 minutes for both the default and the ceiling.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Default: 180 * time.Minute, Max: 180 * time.Minute}
}

// Clamp returns the effective TTL for a request: non-positive means the
// default, anything above the maximum is clamped to it.
func (p TTLPolicy) Clamp(requested time.Duration) time.Duration {
	max := p.Max
	if max <= 0 {
		max = DefaultTTLPolicy().Max
	}
	ttl := requested
	if ttl <= 0 {
		ttl = p.Default
	}
	if ttl <= 0 || ttl > max {
		ttl = max
	}
	return ttl
}

// PatternPrefix returns the literal prefix of a "prefix*" pattern and
// whether the pattern is a prefix match.
func PatternPrefix(pattern string) (string, bool) {
	if strings.HasSuffix(pattern, "*") {
		return strings.TrimSuffix(pattern, "*"), true
	}
	return pattern, false
}

// Matches reports whether key matches pattern.
func Matches(pattern, key string) bool {
	prefix, isPrefix := PatternPrefix(pattern)
	if isPrefix {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}

func unavailable(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsCacheUnavailable(err) {
		return err
	}
	e := errors.NewError(errors.ErrCodeCacheUnavailable, backend+" backend error").
		WithComponent("kvstore").
		WithOperation(op).
		WithCause(err)
	if key != "" {
		e.WithContext("key", key)
	}
	return e
}

func conflict(backend, key string, attempts int) error {
	return errors.NewError(errors.ErrCodeCacheConflict, fmt.Sprintf("%s update did not settle after %d attempts", backend, attempts)).
		WithComponent("kvstore").
		WithOperation("update").
		WithContext("key", key)
}
