package executor

import (
	"errors"
	"time"
)

// Status is a task's lifecycle phase. Transitions are monotonic; a task
// never leaves a terminal state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusExecuting Status = "Executing"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

var validStatusTransitions = map[Status][]Status{
	StatusPending:   {StatusExecuting, StatusFailed},
	StatusExecuting: {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

func statusTransitionAllowed(from, to Status) bool {
	for _, s := range validStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one unit of submitted work. Dependencies reference task IDs and
// must keep the overall graph acyclic.
type Task struct {
	ID                string
	Kind              string
	Priority          float64 // 0..1
	EstimatedDuration time.Duration
	Dependencies      []string
	Status            Status
}

// Handle identifies an accepted task.
type Handle struct {
	ID string
}

// Failure reasons reported through TaskFailed events and status reads.
const (
	ReasonDeadlineExceeded = "DeadlineExceeded"
	ReasonDependencyFailed = "DependencyFailed"
	ReasonCancelled        = "Cancelled"
	ReasonRunnerError      = "RunnerError"
)

var (
	ErrCyclicDependency = errors.New("cyclic task dependency")
	ErrQueueFull        = errors.New("task queue full")
	ErrInvalidTask      = errors.New("invalid task")
	ErrDuplicateTask    = errors.New("duplicate task id")
	ErrUnknownTask      = errors.New("unknown task")
	ErrNotCancellable   = errors.New("task is no longer cancellable")
)

// detectCycle runs a DFS from the candidate over the union of the known
// dependency edges and the candidate's own. Dependencies on not-yet-known
// tasks are fine at this point; they simply gate eligibility later.
func detectCycle(candidate Task, deps map[string][]string) bool {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(deps)+1)

	edges := func(id string) []string {
		if id == candidate.ID {
			return candidate.Dependencies
		}
		return deps[id]
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range edges(id) {
			switch color[dep] {
			case gray:
				return true
			case white:
				if _, known := deps[dep]; !known && dep != candidate.ID {
					continue // unknown task, no edges yet
				}
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	return visit(candidate.ID)
}
