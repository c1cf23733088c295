package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"adaptive-orchestrator/engine/pkg/resource"
)

// scriptedRunner records dispatch order and optionally blocks tasks on a
// gate until the test releases them.
type scriptedRunner struct {
	mu    sync.Mutex
	order []string
	gates map[string]chan struct{}
	fail  map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (r *scriptedRunner) gate(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[id] = ch
	return ch
}

func (r *scriptedRunner) Run(ctx context.Context, task Task, node resource.Node) (string, error) {
	r.mu.Lock()
	r.order = append(r.order, task.ID)
	gate := r.gates[task.ID]
	failErr := r.fail[task.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failErr != nil {
		return "", failErr
	}
	return task.ID + " done", nil
}

func (r *scriptedRunner) dispatched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newTestExecutor(t *testing.T, capacity int, runner Runner) (*Executor, *resource.Pool, *clocktesting.FakeClock) {
	t.Helper()
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(base)
	pool := resource.NewPool(clk)
	pool.Add(resource.Node{ID: "node-1", State: resource.StateActive, Capacity: capacity})

	e := New(Config{
		Interval:      time.Second,
		Deadline:      10 * time.Second,
		QueueCapacity: 10,
	}, pool, runner, nil, clk)
	return e, pool, clk
}

func waitForStatus(t *testing.T, e *Executor, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := e.Status(id); ok && task.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	task, _ := e.Status(id)
	t.Fatalf("task %s never reached %s, stuck at %s", id, want, task.Status)
}

// runUntilStatus keeps running dispatch cycles until the task reaches the
// wanted status. Needed where a task re-enters the intake queue through the
// rate limiter and is not yet visible to the very next cycle.
func runUntilStatus(t *testing.T, e *Executor, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.RunCycle()
		if task, ok := e.Status(id); ok && task.Status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	task, _ := e.Status(id)
	t.Fatalf("task %s never reached %s, stuck at %s", id, want, task.Status)
}

func TestSubmit_Validation(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1, newScriptedRunner())

	if _, err := e.Submit(Task{Kind: "noop"}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("empty id must be rejected, got %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-1", Priority: 1.5}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("priority above 1 must be rejected, got %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-1", Priority: -0.1}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("negative priority must be rejected, got %v", err)
	}

	if _, err := e.Submit(Task{ID: "t-1", Priority: 0.5}); err != nil {
		t.Fatalf("valid submission failed: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-1", Priority: 0.5}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate id must be rejected, got %v", err)
	}
}

func TestSubmit_RejectsCyclesAtAdmission(t *testing.T) {
	e, _, _ := newTestExecutor(t, 1, newScriptedRunner())

	// Forward references are allowed; they gate eligibility, not admission.
	if _, err := e.Submit(Task{ID: "t-a", Priority: 0.5, Dependencies: []string{"t-b"}}); err != nil {
		t.Fatalf("forward dependency must be admitted: %v", err)
	}

	// t-b depending on t-a would close the loop.
	if _, err := e.Submit(Task{ID: "t-b", Priority: 0.5, Dependencies: []string{"t-a"}}); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	if _, ok := e.Status("t-b"); ok {
		t.Error("rejected task must never enter the queue")
	}

	if _, err := e.Submit(Task{ID: "t-c", Priority: 0.5, Dependencies: []string{"t-c"}}); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("self dependency must be rejected, got %v", err)
	}

	if s := e.Summary(); s.Pending != 1 {
		t.Errorf("expected only t-a pending, got %+v", s)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 1, runner)
	e.cfg.QueueCapacity = 2

	if _, err := e.Submit(Task{ID: "t-1", Priority: 0.5}); err != nil {
		t.Fatalf("submit t-1: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-2", Priority: 0.5}); err != nil {
		t.Fatalf("submit t-2: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-3", Priority: 0.5}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Terminal tasks stop counting against the capacity.
	if err := e.Cancel("t-2"); err != nil {
		t.Fatalf("cancel t-2: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-3", Priority: 0.5}); err != nil {
		t.Errorf("capacity must free up after cancellation, got %v", err)
	}
}

func TestDispatch_PriorityThenDurationThenArrival(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 1, runner)

	// Single slot: tasks run strictly in scheduling order.
	tasks := []Task{
		{ID: "t-1", Priority: 0.9, EstimatedDuration: 3 * time.Second},
		{ID: "t-2", Priority: 0.1, EstimatedDuration: time.Second},
		{ID: "t-3", Priority: 0.5, EstimatedDuration: time.Second},
		{ID: "t-4", Priority: 0.9, EstimatedDuration: time.Second},
		{ID: "t-5", Priority: 0.3, EstimatedDuration: time.Second},
	}
	for _, task := range tasks {
		if _, err := e.Submit(task); err != nil {
			t.Fatalf("submit %s: %v", task.ID, err)
		}
	}

	// Highest priority first; the 0.9 tie breaks toward the shorter estimate.
	want := []string{"t-4", "t-1", "t-3", "t-5", "t-2"}
	for _, expected := range want {
		e.RunCycle()
		waitForStatus(t, e, expected, StatusCompleted)
	}

	got := runner.dispatched()
	if len(got) != len(want) {
		t.Fatalf("expected %d dispatches, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestDispatch_EqualTasksRunInArrivalOrder(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 1, runner)

	for _, id := range []string{"t-first", "t-second"} {
		if _, err := e.Submit(Task{ID: id, Priority: 0.5, EstimatedDuration: time.Second}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	e.RunCycle()
	waitForStatus(t, e, "t-first", StatusCompleted)

	if got := runner.dispatched(); got[0] != "t-first" {
		t.Errorf("identical tasks must run in submission order, got %v", got)
	}
}

func TestLifecycle_PendingExecutingCompleted(t *testing.T) {
	runner := newScriptedRunner()
	gate := runner.gate("t-1")
	e, _, _ := newTestExecutor(t, 1, runner)

	if _, err := e.Submit(Task{ID: "t-1", Kind: "noop", Priority: 0.5}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task, _ := e.Status("t-1"); task.Status != StatusPending {
		t.Fatalf("submitted task must be Pending, got %s", task.Status)
	}

	e.RunCycle()
	if task, _ := e.Status("t-1"); task.Status != StatusExecuting {
		t.Fatalf("dispatched task must be Executing, got %s", task.Status)
	}
	if !e.NodeBusy("node-1") {
		t.Error("node with an executing task must report busy")
	}

	close(gate)
	waitForStatus(t, e, "t-1", StatusCompleted)

	result, err := e.Result("t-1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result != "t-1 done" {
		t.Errorf("unexpected result %q", result)
	}
	if e.NodeBusy("node-1") {
		t.Error("node must be free after completion")
	}
}

func TestDeadline_ExpiryFreesSlotSameCycle(t *testing.T) {
	runner := newScriptedRunner()
	runner.gate("t-slow") // never released; only the deadline ends it
	runner.gate("t-next") // held so its Executing state is observable
	e, _, clk := newTestExecutor(t, 1, runner)

	if _, err := e.Submit(Task{ID: "t-slow", Priority: 0.9}); err != nil {
		t.Fatalf("submit t-slow: %v", err)
	}
	e.RunCycle()
	if task, _ := e.Status("t-slow"); task.Status != StatusExecuting {
		t.Fatalf("t-slow must be Executing, got %s", task.Status)
	}

	if _, err := e.Submit(Task{ID: "t-next", Priority: 0.5}); err != nil {
		t.Fatalf("submit t-next: %v", err)
	}

	clk.Step(11 * time.Second) // past the 10s deadline
	e.RunCycle()

	if task, _ := e.Status("t-slow"); task.Status != StatusFailed {
		t.Fatalf("expired task must be Failed, got %s", task.Status)
	}
	if reason, _ := e.FailureReason("t-slow"); reason != ReasonDeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %s", reason)
	}
	// The freed slot is reused within the same cycle.
	if task, _ := e.Status("t-next"); task.Status != StatusExecuting {
		t.Errorf("freed slot must be redispatched in the same cycle, got %s", task.Status)
	}
}

func TestDependencies_GateDispatchAndAggregateResults(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 2, runner)

	if _, err := e.Submit(Task{ID: "t-root", Priority: 0.5}); err != nil {
		t.Fatalf("submit t-root: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-leaf", Priority: 0.9, Dependencies: []string{"t-root"}}); err != nil {
		t.Fatalf("submit t-leaf: %v", err)
	}

	// Despite its higher priority, t-leaf waits for its dependency.
	e.RunCycle()
	waitForStatus(t, e, "t-root", StatusCompleted)
	if got := runner.dispatched(); len(got) != 1 || got[0] != "t-root" {
		t.Fatalf("only the root may run first, got %v", got)
	}

	runUntilStatus(t, e, "t-leaf", StatusCompleted)

	result, err := e.Result("t-leaf")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result != "t-root done\nt-leaf done" {
		t.Errorf("aggregated result mismatch: %q", result)
	}
}

func TestDependencies_UnknownDepNeverDispatches(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 1, runner)

	if _, err := e.Submit(Task{ID: "t-orphan", Priority: 0.5, Dependencies: []string{"ghost"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.RunCycle()
	e.RunCycle()

	if task, _ := e.Status("t-orphan"); task.Status != StatusPending {
		t.Errorf("task with an unknown dependency must stay Pending, got %s", task.Status)
	}
	if got := runner.dispatched(); len(got) != 0 {
		t.Errorf("nothing may be dispatched, got %v", got)
	}
}

func TestDispatch_BlockedTaskRetriesThroughQueue(t *testing.T) {
	runner := newScriptedRunner()
	e, _, _ := newTestExecutor(t, 1, runner)

	// t-blocked references a dependency that does not exist yet. Each cycle
	// pops it from the intake queue and requeues it with backoff; only the
	// requeue can ever bring it back, since nothing resubmits it.
	if _, err := e.Submit(Task{ID: "t-blocked", Priority: 0.9, Dependencies: []string{"t-dep"}}); err != nil {
		t.Fatalf("submit t-blocked: %v", err)
	}
	e.RunCycle()
	if got := runner.dispatched(); len(got) != 0 {
		t.Fatalf("blocked task must not dispatch, got %v", got)
	}

	if _, err := e.Submit(Task{ID: "t-dep", Priority: 0.1}); err != nil {
		t.Fatalf("submit t-dep: %v", err)
	}
	runUntilStatus(t, e, "t-dep", StatusCompleted)
	runUntilStatus(t, e, "t-blocked", StatusCompleted)

	got := runner.dispatched()
	if len(got) != 2 || got[0] != "t-dep" || got[1] != "t-blocked" {
		t.Errorf("expected [t-dep t-blocked], got %v", got)
	}
}

func TestDependencies_FailureCascades(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["t-root"] = errors.New("boom")
	e, _, _ := newTestExecutor(t, 2, runner)

	if _, err := e.Submit(Task{ID: "t-root", Priority: 0.5}); err != nil {
		t.Fatalf("submit t-root: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-mid", Priority: 0.5, Dependencies: []string{"t-root"}}); err != nil {
		t.Fatalf("submit t-mid: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-leaf", Priority: 0.5, Dependencies: []string{"t-mid"}}); err != nil {
		t.Fatalf("submit t-leaf: %v", err)
	}

	e.RunCycle()
	waitForStatus(t, e, "t-root", StatusFailed)
	if reason, _ := e.FailureReason("t-root"); reason != ReasonRunnerError {
		t.Errorf("expected RunnerError, got %s", reason)
	}

	// The failure propagates down the chain over the following cycles.
	e.RunCycle()
	e.RunCycle()
	waitForStatus(t, e, "t-mid", StatusFailed)
	waitForStatus(t, e, "t-leaf", StatusFailed)
	if reason, _ := e.FailureReason("t-leaf"); reason != ReasonDependencyFailed {
		t.Errorf("expected DependencyFailed, got %s", reason)
	}
}

func TestCancel_OnlyPendingTasks(t *testing.T) {
	runner := newScriptedRunner()
	gate := runner.gate("t-running")
	e, _, _ := newTestExecutor(t, 1, runner)

	if _, err := e.Submit(Task{ID: "t-running", Priority: 0.9}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.Submit(Task{ID: "t-waiting", Priority: 0.1}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.RunCycle()

	if err := e.Cancel("t-waiting"); err != nil {
		t.Errorf("pending task must be cancellable: %v", err)
	}
	if reason, _ := e.FailureReason("t-waiting"); reason != ReasonCancelled {
		t.Errorf("expected Cancelled, got %s", reason)
	}

	if err := e.Cancel("t-running"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("executing task must not be cancellable, got %v", err)
	}
	if err := e.Cancel("t-missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}

	close(gate)
	waitForStatus(t, e, "t-running", StatusCompleted)
}

func TestDispatch_NoActiveNodesNoWork(t *testing.T) {
	runner := newScriptedRunner()
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(base)
	pool := resource.NewPool(clk)
	pool.Add(resource.Node{ID: "node-1", State: resource.StateDraining, Capacity: 2})

	e := New(Config{Interval: time.Second, Deadline: 10 * time.Second, QueueCapacity: 10},
		pool, runner, nil, clk)

	if _, err := e.Submit(Task{ID: "t-1", Priority: 0.5}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.RunCycle()

	if got := runner.dispatched(); len(got) != 0 {
		t.Errorf("draining nodes must not receive work, got %v", got)
	}
	if task, _ := e.Status("t-1"); task.Status != StatusPending {
		t.Errorf("task must wait for an active node, got %s", task.Status)
	}
}
