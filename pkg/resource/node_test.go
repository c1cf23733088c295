package resource

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

func TestPool_StateMachineForwardOnly(t *testing.T) {
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(base)
	pool := NewPool(clk)

	pool.Add(Node{ID: "n-1", State: StateProvisioning, CreatedAt: base})

	steps := []State{StateActive, StateDraining, StateTerminated}
	for _, next := range steps {
		if err := pool.Transition("n-1", next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}

	// Terminated is absorbing.
	if err := pool.Transition("n-1", StateActive); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition out of Terminated, got %v", err)
	}
}

func TestPool_RejectsBackwardTransitions(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	pool := NewPool(clk)
	pool.Add(Node{ID: "n-1", State: StateActive})

	if err := pool.Transition("n-1", StateProvisioning); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Active -> Provisioning must be rejected, got %v", err)
	}
	if err := pool.Transition("n-9", StateActive); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestPool_SnapshotExcludesTerminatedAndFillsUptime(t *testing.T) {
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(base)
	pool := NewPool(clk)

	pool.Add(Node{ID: "n-a", State: StateActive, CreatedAt: base.Add(-time.Hour), CostPerSecond: 0.02})
	pool.Add(Node{ID: "n-b", State: StateActive, CreatedAt: base, CostPerSecond: 0.03})
	if err := pool.Transition("n-b", StateTerminated); err != nil {
		t.Fatalf("terminate n-b: %v", err)
	}

	snap := pool.Snapshot()
	if len(snap) != 1 || snap[0].ID != "n-a" {
		t.Fatalf("expected snapshot of [n-a], got %+v", snap)
	}
	if snap[0].UptimeSeconds != 3600 {
		t.Errorf("expected uptime 3600s, got %.0f", snap[0].UptimeSeconds)
	}
	if pool.Size() != 1 {
		t.Errorf("terminated nodes must not count toward size, got %d", pool.Size())
	}
	if math.Abs(pool.TotalCostRate()-0.02) > 1e-12 {
		t.Errorf("terminated nodes must not count toward cost, got %f", pool.TotalCostRate())
	}
}

func TestPool_SnapshotIsACopy(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	pool := NewPool(clk)
	pool.Add(Node{ID: "n-1", State: StateActive, CPUUsage: 10})

	snap := pool.Snapshot()
	snap[0].CPUUsage = 99

	if n, _ := pool.Get("n-1"); n.CPUUsage != 10 {
		t.Errorf("snapshot mutation leaked into the pool: cpu=%.0f", n.CPUUsage)
	}
}

func TestPool_HeartbeatUpdates(t *testing.T) {
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(base)
	pool := NewPool(clk)
	pool.Add(Node{ID: "n-1", State: StateActive})

	clk.Step(30 * time.Second)
	if err := pool.UpdateMetrics("n-1", 42, 60); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	n, _ := pool.Get("n-1")
	if n.CPUUsage != 42 || n.MemoryUsage != 60 {
		t.Errorf("heartbeat metrics not applied: %+v", n)
	}
	if !n.LastHeartbeat.Equal(base.Add(30 * time.Second)) {
		t.Errorf("heartbeat timestamp not advanced: %s", n.LastHeartbeat)
	}

	if err := pool.Transition("n-1", StateTerminated); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := pool.UpdateMetrics("n-1", 1, 1); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("heartbeat for terminated node must be rejected, got %v", err)
	}
}

func TestSimProvider_ProvisionsFromSpec(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	p := NewSimProvider("sim", []InstanceSpec{
		{Class: "standard", Capacity: 2, CostPerSecond: 0.012},
	}, clk)

	a, err := p.Provision(context.Background(), "standard")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	b, err := p.Provision(context.Background(), "standard")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("provisioned nodes must have unique IDs")
	}
	if a.State != StateProvisioning {
		t.Errorf("new nodes start in Provisioning, got %s", a.State)
	}
	if a.Capacity != 2 || a.CostPerSecond != 0.012 {
		t.Errorf("spec not applied: %+v", a)
	}

	// Unknown classes fall back to a single-slot node.
	c, err := p.Provision(context.Background(), "mystery")
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if c.Capacity != 1 {
		t.Errorf("unknown class should yield one slot, got %d", c.Capacity)
	}

	if err := p.Terminate(context.Background(), a.ID); err != nil {
		t.Errorf("terminate failed: %v", err)
	}
}
