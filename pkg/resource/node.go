package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// State is a node's lifecycle phase. Transitions only ever move forward:
// Provisioning -> Active -> Draining -> Terminated.
type State string

const (
	StateProvisioning State = "Provisioning"
	StateActive       State = "Active"
	StateDraining     State = "Draining"
	StateTerminated   State = "Terminated"
)

var validTransitions = map[State][]State{
	StateProvisioning: {StateActive, StateTerminated},
	StateActive:       {StateDraining, StateTerminated},
	StateDraining:     {StateTerminated},
	StateTerminated:   {},
}

var (
	ErrUnknownNode       = errors.New("unknown node")
	ErrInvalidTransition = errors.New("invalid node state transition")
)

// Node is one unit of compute capacity. The pool owns all mutation; values
// handed out through Snapshot are copies.
type Node struct {
	ID            string
	Provider      string
	InstanceClass string
	Capacity      int // concurrent task slots
	CPUUsage      float64
	MemoryUsage   float64
	CostPerSecond float64
	CreatedAt     time.Time
	LastHeartbeat time.Time
	State         State

	// UptimeSeconds is filled in on snapshot reads.
	UptimeSeconds float64
}

// RiskState is the controller's aggregate risk view. A single value,
// replaced wholesale each cycle.
type RiskState struct {
	Score     float64
	Anomaly   float64
	UpdatedAt time.Time
}

// Pool is the node set keyed by ID. Only the resource controller mutates
// it; consumers read consistent snapshots.
type Pool struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	costRate float64
	clock    clock.Clock
}

func NewPool(clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Pool{
		nodes: make(map[string]*Node),
		clock: clk,
	}
}

// Add inserts a node in its current state.
func (p *Pool) Add(n Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := n
	p.nodes[n.ID] = &cp
	p.recomputeCostLocked()
}

// Transition moves a node to next, enforcing the forward-only machine.
func (p *Pool) Transition(id string, next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	for _, allowed := range validTransitions[n.State] {
		if allowed == next {
			n.State = next
			p.recomputeCostLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s for node %s", ErrInvalidTransition, n.State, next, id)
}

// Remove deletes a terminated node from the map entirely.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, id)
	p.recomputeCostLocked()
}

// UpdateMetrics records a node heartbeat. Heartbeats for unknown or
// terminated nodes are rejected.
func (p *Pool) UpdateMetrics(id string, cpu, mem float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if n.State == StateTerminated {
		return fmt.Errorf("%w: %s is terminated", ErrUnknownNode, id)
	}
	n.CPUUsage = cpu
	n.MemoryUsage = mem
	n.LastHeartbeat = p.clock.Now()
	return nil
}

// Get returns a copy of the node.
func (p *Pool) Get(id string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	if !ok {
		return Node{}, false
	}
	return p.snapshotNodeLocked(n), true
}

// Snapshot returns copies of every live (non-terminated) node, ordered by
// ID for stable iteration.
func (p *Pool) Snapshot() []Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		if n.State == StateTerminated {
			continue
		}
		out = append(out, p.snapshotNodeLocked(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) snapshotNodeLocked(n *Node) Node {
	cp := *n
	cp.UptimeSeconds = p.clock.Since(n.CreatedAt).Seconds()
	return cp
}

// Size counts live nodes.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	size := 0
	for _, n := range p.nodes {
		if n.State != StateTerminated {
			size++
		}
	}
	return size
}

// TotalCostRate is the summed cost per second of live nodes. Recomputed on
// every mutation, never incrementally adjusted.
func (p *Pool) TotalCostRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.costRate
}

func (p *Pool) recomputeCostLocked() {
	total := 0.0
	for _, n := range p.nodes {
		if n.State == StateTerminated {
			continue
		}
		total += n.CostPerSecond
	}
	p.costRate = total
	poolCostRate.Set(total)
}
