package executor

import (
	"context"
	"fmt"
	"time"

	"adaptive-orchestrator/engine/pkg/resource"
)

// SimRunner occupies a slot for the task's estimated duration and returns a
// synthetic output line. It backs demos and tests; real deployments plug in
// a runner that talks to the node's agent.
type SimRunner struct{}

func (SimRunner) Run(ctx context.Context, task Task, node resource.Node) (string, error) {
	d := task.EstimatedDuration
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}
	return fmt.Sprintf("%s ok on %s", task.ID, node.ID), nil
}
