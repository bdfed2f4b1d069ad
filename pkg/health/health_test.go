package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RegisterComponent("storage", nil)

	if state := tracker.GetState("storage"); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if state := tracker.GetState("unknown"); state != StateUnavailable {
		t.Errorf("Expected unknown component to be StateUnavailable, got %s", state)
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("storage", nil)

	for i := 0; i < 4; i++ {
		tracker.RecordError("storage", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("storage"); state != StateDegraded {
		t.Fatalf("Expected StateDegraded, got %s", state)
	}

	tracker.RecordSuccess("storage")

	health, err := tracker.GetComponentHealth("storage")
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after success, got %d", health.ConsecutiveErrors)
	}
	if health.State != StateHealthy {
		t.Errorf("Expected StateHealthy after success, got %s", health.State)
	}
	if health.LastErrorMessage != "" {
		t.Errorf("Expected last error to be cleared, got %q", health.LastErrorMessage)
	}
}

func TestTracker_RecordError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		count  int
		expect HealthState
	}{
		{name: "below threshold", err: fmt.Errorf("boom"), count: 2, expect: StateHealthy},
		{name: "degraded", err: fmt.Errorf("boom"), count: 3, expect: StateDegraded},
		{name: "lock timeouts", err: errors.NewError(errors.ErrCodeLockTimeout, "lock busy"), count: 3, expect: StateReadOnly},
		{name: "unavailable", err: fmt.Errorf("boom"), count: 10, expect: StateUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(DefaultConfig())
			tracker.RegisterComponent("lock", nil)
			for i := 0; i < tt.count; i++ {
				tracker.RecordError("lock", tt.err)
			}
			if state := tracker.GetState("lock"); state != tt.expect {
				t.Errorf("Expected %s, got %s", tt.expect, state)
			}
		})
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("storage", nil)
	tracker.RegisterComponent("lock", nil)

	if overall := tracker.GetOverallHealth(); overall != StateHealthy {
		t.Errorf("Expected StateHealthy, got %s", overall)
	}
	if !tracker.CanWrite() {
		t.Error("Expected writes to be allowed while healthy")
	}

	for i := 0; i < 3; i++ {
		tracker.RecordError("lock", errors.NewError(errors.ErrCodeLockTimeout, "lock busy"))
	}

	if overall := tracker.GetOverallHealth(); overall != StateReadOnly {
		t.Errorf("Expected StateReadOnly, got %s", overall)
	}
	if tracker.CanWrite() {
		t.Error("Expected writes to be refused while read-only")
	}

	components := tracker.GetAllComponents()
	if len(components) != 2 || components[0].Name != "lock" || components[1].Name != "storage" {
		t.Errorf("Unexpected component listing: %+v", components)
	}
}

func TestTracker_CheckNow(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	var calls int32
	tracker.RegisterComponent("storage", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("bucket unreachable")
	})
	tracker.RegisterComponent("passive", nil)

	for i := 0; i < 3; i++ {
		tracker.CheckNow(context.Background())
	}

	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 probes, got %d", calls)
	}
	if state := tracker.GetState("storage"); state != StateDegraded {
		t.Errorf("Expected StateDegraded, got %s", state)
	}
	if state := tracker.GetState("passive"); state != StateHealthy {
		t.Errorf("Expected passive component untouched, got %s", state)
	}
}

func TestTracker_StartHealthChecks(t *testing.T) {
	config := DefaultConfig()
	config.HealthCheckInterval = 5 * time.Millisecond
	tracker := NewTracker(config)

	var calls int32
	tracker.RegisterComponent("storage", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tracker.StartHealthChecks(ctx)

	if atomic.LoadInt32(&calls) == 0 {
		t.Error("Expected at least one probe")
	}
}

func TestHealthState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]HealthState{"state": StateReadOnly})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"state":"read-only"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}
}
