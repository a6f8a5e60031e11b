// Package health tracks the health of the stores a client depends on,
// derived from the outcome of the commands it runs.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// State is the health state of a component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StateDegraded indicates repeated failures below the unavailable threshold.
	StateDegraded

	// StateReadOnly indicates writes are being refused while reads may work.
	StateReadOnly

	// StateUnavailable indicates the component is not operational.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth is a snapshot of one component.
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// Config sets the thresholds that move a component between states.
type Config struct {
	// ErrorThreshold is the number of consecutive errors before a component is degraded.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before it is unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// RecoveryThreshold is the number of consecutive successes that restore it.
	RecoveryThreshold int `yaml:"recovery_threshold" json:"recovery_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    2,
	}
}

// StateChangeFunc is called after a component changes state.
type StateChangeFunc func(component string, oldState, newState State, err error)

type component struct {
	ComponentHealth
	successes int
}

// Tracker records successes and failures per component.
type Tracker struct {
	mu         sync.RWMutex
	config     Config
	components map[string]*component
	onChange   []StateChangeFunc
}

// NewTracker creates a tracker. Zero thresholds take their defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.UnavailableThreshold < cfg.ErrorThreshold {
		cfg.UnavailableThreshold = max(def.UnavailableThreshold, cfg.ErrorThreshold)
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = def.RecoveryThreshold
	}
	return &Tracker{
		config:     cfg,
		components: make(map[string]*component),
	}
}

// Register adds a component in the healthy state. Registering twice is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.components[name]; ok {
		return
	}
	now := time.Now()
	t.components[name] = &component{ComponentHealth: ComponentHealth{
		Name:            name,
		State:           StateHealthy,
		LastStateChange: now,
		LastCheck:       now,
	}}
}

// OnStateChange registers fn for every state transition. Callbacks run
// synchronously after the tracker lock is released.
func (t *Tracker) OnStateChange(fn StateChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// RecordSuccess records a successful call. A component that is not healthy
// recovers after RecoveryThreshold consecutive successes.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	c, ok := t.components[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	old := c.State
	c.LastCheck = time.Now()
	c.ConsecutiveErrors = 0
	c.successes++
	if old != StateHealthy && c.successes >= t.config.RecoveryThreshold {
		t.transition(c, StateHealthy)
		c.LastErrorMessage = ""
	}
	callbacks := t.callbacksFor(old, c.State)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(name, old, StateHealthy, nil)
	}
}

// RecordError records a failed call.
func (t *Tracker) RecordError(name string, err error) {
	t.mu.Lock()
	c, ok := t.components[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	old := c.State
	c.LastCheck = time.Now()
	c.ConsecutiveErrors++
	c.successes = 0
	if err != nil {
		c.LastErrorMessage = err.Error()
	}

	next := old
	switch {
	case c.ConsecutiveErrors >= t.config.UnavailableThreshold:
		next = StateUnavailable
	case c.ConsecutiveErrors >= t.config.ErrorThreshold && old != StateUnavailable:
		if isWriteRefusal(err) {
			next = StateReadOnly
		} else {
			next = StateDegraded
		}
	}
	if next != old {
		t.transition(c, next)
	}
	callbacks := t.callbacksFor(old, next)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(name, old, next, err)
	}
}

// Get returns a snapshot of one component.
func (t *Tracker) Get(name string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.components[name]
	if !ok {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", name)
	}
	return c.ComponentHealth, nil
}

// State returns the state of a component; unknown components are unavailable.
func (t *Tracker) State(name string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, ok := t.components[name]; ok {
		return c.State
	}
	return StateUnavailable
}

// Components returns snapshots of every component sorted by name.
func (t *Tracker) Components() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, c.ComponentHealth)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst state across all components.
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

// must hold t.mu
func (t *Tracker) transition(c *component, next State) {
	c.State = next
	c.LastStateChange = time.Now()
}

// must hold t.mu
func (t *Tracker) callbacksFor(old, next State) []StateChangeFunc {
	if old == next || len(t.onChange) == 0 {
		return nil
	}
	return append([]StateChangeFunc(nil), t.onChange...)
}

// isWriteRefusal reports errors that refuse writes while reads may still
// succeed.
func isWriteRefusal(err error) bool {
	return errors.HasCode(err, errors.ErrCodeAccessDenied)
}

// Counts reports whether err reflects on the health of the component that
// returned it. Caller mistakes and expected answers such as a missing key or
// an existing bucket do not count.
func Counts(err error) bool {
	if err == nil {
		return false
	}
	code := errors.CodeOf(err)
	switch errors.GetCategory(code) {
	case errors.CategoryConnection:
		return true
	case errors.CategoryRemote:
		return code == errors.ErrCodeRemoteOperation ||
			code == errors.ErrCodeThrottled ||
			code == errors.ErrCodeAccessDenied
	case errors.CategoryOperation:
		return code == errors.ErrCodeOperationTimeout || code == errors.ErrCodeRetryExhausted
	case errors.CategoryInternal:
		return code == errors.ErrCodeInternalError
	}
	return false
}
