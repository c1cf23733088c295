package resource

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Provider is the boundary to whatever actually supplies compute. The
// controller only needs provisioning and termination; everything else is
// heartbeat-driven.
type Provider interface {
	// Provision brings up a node of the given instance class and returns
	// it in StateProvisioning.
	Provision(ctx context.Context, instanceClass string) (Node, error)
	// Terminate releases the node with the given ID.
	Terminate(ctx context.Context, id string) error
}

// InstanceSpec describes one instance class a provider can supply.
type InstanceSpec struct {
	Class         string
	Capacity      int
	CostPerSecond float64
}

// SimProvider fabricates nodes locally. It backs demos and tests; a real
// deployment plugs a cloud adapter in instead.
type SimProvider struct {
	Name  string
	Specs map[string]InstanceSpec

	mu    sync.Mutex
	clock clock.Clock
	live  map[string]bool
}

func NewSimProvider(name string, specs []InstanceSpec, clk clock.Clock) *SimProvider {
	if clk == nil {
		clk = clock.RealClock{}
	}
	byClass := make(map[string]InstanceSpec, len(specs))
	for _, s := range specs {
		byClass[s.Class] = s
	}
	return &SimProvider{
		Name:  name,
		Specs: byClass,
		clock: clk,
		live:  make(map[string]bool),
	}
}

func (s *SimProvider) Provision(ctx context.Context, instanceClass string) (Node, error) {
	if err := ctx.Err(); err != nil {
		return Node{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.Specs[instanceClass]
	if !ok {
		// Unknown classes get a minimal single-slot node rather than an
		// error; the class name still records what was asked for.
		spec = InstanceSpec{Class: instanceClass, Capacity: 1, CostPerSecond: 0.01}
	}

	now := s.clock.Now()
	n := Node{
		ID:            uuid.NewString(),
		Provider:      s.Name,
		InstanceClass: spec.Class,
		Capacity:      spec.Capacity,
		CostPerSecond: spec.CostPerSecond,
		CreatedAt:     now,
		LastHeartbeat: now,
		State:         StateProvisioning,
	}
	s.live[n.ID] = true
	return n, nil
}

func (s *SimProvider) Terminate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	return nil
}
