// Package health tracks the health of the drive's external dependencies (object store,
// lock backend) from probe results and from the outcome of live requests.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
)

// HealthState represents the health of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates recent failures while requests still go through
	StateDegraded

	// StateReadOnly indicates reads work but mutations cannot take their locks
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
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

// MarshalText renders the state name in JSON
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Check probes one component
type Check func(ctx context.Context) error

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`

	check Check
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// HealthCheckInterval is the interval between probe rounds
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// CheckTimeout bounds a single probe
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
		CheckTimeout:         5 * time.Second,
	}
}

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent registers a component; check may be nil for components that are
// only fed by request outcomes
func (t *Tracker) RegisterComponent(name string, check Check) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, exists := t.components[name]; exists {
		c.check = check
		return
	}
	t.components[name] = &ComponentHealth{
		Name:            name,
		State:           StateHealthy,
		LastStateChange: time.Now(),
		LastHealthCheck: time.Now(),
		check:           check,
	}
}

// RecordSuccess records a successful operation. Any success restores a healthy state.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.components[component]
	if !exists {
		return
	}
	c.LastHealthCheck = time.Now()
	c.ConsecutiveErrors = 0
	c.LastErrorMessage = ""
	t.transition(c, StateHealthy)
}

// RecordError records a failure. Lock timeouts beyond the error threshold put the
// component in read-only mode, other failures degrade it.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.components[component]
	if !exists {
		return
	}
	c.LastHealthCheck = time.Now()
	c.ConsecutiveErrors++
	if err != nil {
		c.LastErrorMessage = err.Error()
	}

	switch {
	case c.ConsecutiveErrors >= t.config.UnavailableThreshold:
		t.transition(c, StateUnavailable)
	case c.ConsecutiveErrors >= t.config.ErrorThreshold:
		if errors.HasCode(err, errors.ErrCodeLockTimeout) {
			t.transition(c, StateReadOnly)
		} else {
			t.transition(c, StateDegraded)
		}
	}
}

// GetState returns the state of a component, unavailable when unknown
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, exists := t.components[component]; exists {
		return c.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of a component's health
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	cp := *c
	cp.check = nil
	return &cp, nil
}

// GetAllComponents returns copies of every component sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, c := range t.components {
		cp := *c
		cp.check = nil
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst component state
func (t *Tracker) GetOverallHealth() HealthState {
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

// CanWrite reports whether mutating requests should be attempted
func (t *Tracker) CanWrite() bool {
	state := t.GetOverallHealth()
	return state == StateHealthy || state == StateDegraded
}

// CheckNow runs every registered probe once
func (t *Tracker) CheckNow(ctx context.Context) {
	t.mu.RLock()
	probes := make(map[string]Check, len(t.components))
	for name, c := range t.components {
		if c.check != nil {
			probes[name] = c.check
		}
	}
	t.mu.RUnlock()

	for name, check := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, t.config.CheckTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			t.RecordError(name, err)
		} else {
			t.RecordSuccess(name)
		}
	}
}

// StartHealthChecks probes all components every HealthCheckInterval until ctx is done
func (t *Tracker) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx)
		}
	}
}

// transition must be called with the lock held
func (t *Tracker) transition(c *ComponentHealth, state HealthState) {
	if c.State != state {
		c.State = state
		c.LastStateChange = time.Now()
	}
}
