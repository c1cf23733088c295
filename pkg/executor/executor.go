package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"adaptive-orchestrator/engine/pkg/resource"
)

// Runner executes one task on one node and returns its output. The context
// is cancelled when the task's deadline expires.
type Runner interface {
	Run(ctx context.Context, task Task, node resource.Node) (string, error)
}

// Sink receives terminal task notifications.
type Sink interface {
	TaskCompleted(task Task, result string)
	TaskFailed(task Task, reason string)
}

// Config is the executor's policy surface.
type Config struct {
	Interval      time.Duration
	Deadline      time.Duration
	QueueCapacity int
}

// Summary is the queue view the coordinator publishes.
type Summary struct {
	Pending   int
	Executing int
	Completed int
	Failed    int
}

type record struct {
	task      Task
	seq       uint64
	output    string
	result    string // aggregated output, set on completion
	failure   string
	nodeID    string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Executor is the fast loop: it admits tasks, dispatches eligible ones onto
// free node slots, and enforces the hard deadline. It is the only writer of
// task status.
type Executor struct {
	cfg    Config
	pool   *resource.Pool
	runner Runner
	sink   Sink
	clock  clock.Clock

	// intake is the sole source of dispatchable work: Pending task IDs live
	// here between cycles, and blocked tasks are requeued through the rate
	// limiter so their re-checks back off.
	intake workqueue.RateLimitingInterface

	mu      sync.Mutex
	tasks   map[string]*record
	deps    map[string][]string // dependency edges of every known task
	nextSeq uint64
}

func New(cfg Config, pool *resource.Pool, runner Runner, sink Sink, clk clock.Clock) *Executor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Executor{
		cfg:    cfg,
		pool:   pool,
		runner: runner,
		sink:   sink,
		clock:  clk,
		intake: workqueue.NewNamedRateLimitingQueue(
			workqueue.DefaultControllerRateLimiter(),
			"Tasks",
		),
		tasks: make(map[string]*record),
		deps:  make(map[string][]string),
	}
}

// Submit validates and admits a task. The task enters the intake queue
// Pending and is picked up by the next dispatch cycle; until then it can be
// cancelled.
func (e *Executor) Submit(t Task) (Handle, error) {
	if t.ID == "" {
		return Handle{}, fmt.Errorf("%w: empty id", ErrInvalidTask)
	}
	if t.Priority < 0 || t.Priority > 1 {
		return Handle{}, fmt.Errorf("%w: priority %.2f outside [0,1]", ErrInvalidTask, t.Priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tasks[t.ID]; exists {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if e.activeCountLocked() >= e.cfg.QueueCapacity {
		tasksRejected.WithLabelValues("queue_full").Inc()
		return Handle{}, fmt.Errorf("%w: capacity %d", ErrQueueFull, e.cfg.QueueCapacity)
	}
	if detectCycle(t, e.deps) {
		tasksRejected.WithLabelValues("cyclic_dependency").Inc()
		return Handle{}, fmt.Errorf("%w: task %s", ErrCyclicDependency, t.ID)
	}

	t.Status = StatusPending
	e.nextSeq++
	e.tasks[t.ID] = &record{task: t, seq: e.nextSeq}
	e.deps[t.ID] = append([]string(nil), t.Dependencies...)

	e.intake.Add(t.ID)
	queueDepth.Set(float64(e.activeCountLocked()))
	klog.V(4).Infof("Task %s submitted (kind=%s priority=%.2f deps=%d)",
		t.ID, t.Kind, t.Priority, len(t.Dependencies))
	return Handle{ID: t.ID}, nil
}

// Cancel withdraws a task that has not started executing.
func (e *Executor) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if rec.task.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, rec.task.Status)
	}
	e.failLocked(rec, ReasonCancelled)
	return nil
}

// Status returns a copy of the task.
func (e *Executor) Status(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// Result returns the aggregated output of a completed task.
func (e *Executor) Result(id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.tasks[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if rec.task.Status != StatusCompleted {
		return "", fmt.Errorf("task %s is %s, not completed", id, rec.task.Status)
	}
	return rec.result, nil
}

// Summary counts tasks by status.
func (e *Executor) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Summary
	for _, rec := range e.tasks {
		switch rec.task.Status {
		case StatusPending:
			s.Pending++
		case StatusExecuting:
			s.Executing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// NodeBusy reports whether any task is executing on the node. The resource
// controller consults this before terminating a draining node.
func (e *Executor) NodeBusy(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.tasks {
		if rec.task.Status == StatusExecuting && rec.nodeID == nodeID {
			return true
		}
	}
	return false
}

// Run executes dispatch cycles until stopCh closes.
func (e *Executor) Run(stopCh <-chan struct{}) {
	klog.Infof("Task executor started (interval=%v deadline=%v capacity=%d)",
		e.cfg.Interval, e.cfg.Deadline, e.cfg.QueueCapacity)
	wait.Until(e.RunCycle, e.cfg.Interval, stopCh)
	e.intake.ShutDown()
	klog.Info("Task executor stopped")
}

// RunCycle performs one dispatch pass: expire deadlines, cascade dependency
// failures, dispatch queued tasks onto free slots. Exported for manual
// triggering and virtual-clock tests.
func (e *Executor) RunCycle() {
	start := e.clock.Now()
	defer func() {
		dispatchCycleDuration.Observe(e.clock.Since(start).Seconds())
	}()

	e.expireDeadlines()
	e.cascadeFailures()
	e.dispatch()
}

// takePending pops every currently queued task ID. Each popped ID is either
// dispatched, requeued, or dropped by dispatch; nothing outside the queue is
// ever considered for dispatch.
func (e *Executor) takePending() []string {
	ids := make([]string, 0, e.intake.Len())
	for e.intake.Len() > 0 {
		item, shutdown := e.intake.Get()
		if shutdown {
			break
		}
		ids = append(ids, item.(string))
	}
	return ids
}

// expireDeadlines fails executing tasks that outlived the hard deadline and
// frees their slots within the same cycle.
func (e *Executor) expireDeadlines() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.tasks {
		if rec.task.Status != StatusExecuting {
			continue
		}
		if e.clock.Since(rec.startedAt) <= e.cfg.Deadline {
			continue
		}
		klog.Warningf("Task %s exceeded deadline %v on node %s",
			rec.task.ID, e.cfg.Deadline, rec.nodeID)
		if rec.cancel != nil {
			rec.cancel()
		}
		e.failLocked(rec, ReasonDeadlineExceeded)
	}
}

// cascadeFailures fails pending tasks whose dependencies can never
// complete. Without this they would sit in the queue forever.
func (e *Executor) cascadeFailures() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.tasks {
		if rec.task.Status != StatusPending {
			continue
		}
		for _, dep := range rec.task.Dependencies {
			depRec, known := e.tasks[dep]
			if known && depRec.task.Status == StatusFailed {
				e.failLocked(rec, ReasonDependencyFailed)
				break
			}
		}
	}
}

// dispatch pops every queued task ID and assigns the eligible ones to free
// node slots, highest priority first, shortest estimated duration breaking
// ties. Tasks with outstanding dependencies go back through the rate limiter
// so their re-checks back off; eligible tasks that found no free slot are
// requeued immediately and contend again next cycle.
func (e *Executor) dispatch() {
	slots := e.freeSlots(e.pool.Snapshot())
	ids := e.takePending()
	if len(ids) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ready := make([]*record, 0, len(ids))
	for _, id := range ids {
		rec, ok := e.tasks[id]
		switch {
		case !ok || rec.task.Status != StatusPending:
			// Cancelled or failed while queued.
			e.intake.Forget(id)
			e.intake.Done(id)
		case !e.depsSatisfiedLocked(rec):
			e.intake.AddRateLimited(id)
			e.intake.Done(id)
		default:
			e.intake.Forget(id)
			ready = append(ready, rec)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.task.Priority != b.task.Priority {
			return a.task.Priority > b.task.Priority
		}
		if a.task.EstimatedDuration != b.task.EstimatedDuration {
			return a.task.EstimatedDuration < b.task.EstimatedDuration
		}
		return a.seq < b.seq
	})

	n := len(ready)
	if n > len(slots) {
		n = len(slots)
	}
	for i := 0; i < n; i++ {
		e.startLocked(ready[i], slots[i])
		e.intake.Done(ready[i].task.ID)
	}
	for i := n; i < len(ready); i++ {
		e.intake.Add(ready[i].task.ID)
		e.intake.Done(ready[i].task.ID)
	}

	if n > 0 {
		klog.V(4).Infof("Dispatched %d task(s) onto %d free slot(s)", n, len(slots))
	}
}

// freeSlots expands active nodes into per-slot entries, minus slots already
// taken by executing tasks. One task per capacity unit.
func (e *Executor) freeSlots(nodes []resource.Node) []resource.Node {
	e.mu.Lock()
	used := make(map[string]int)
	for _, rec := range e.tasks {
		if rec.task.Status == StatusExecuting {
			used[rec.nodeID]++
		}
	}
	e.mu.Unlock()

	var slots []resource.Node
	for _, n := range nodes {
		if n.State != resource.StateActive {
			continue
		}
		capacity := n.Capacity
		if capacity < 1 {
			capacity = 1
		}
		for free := capacity - used[n.ID]; free > 0; free-- {
			slots = append(slots, n)
		}
	}
	return slots
}

// depsSatisfiedLocked reports whether every dependency of the task has
// completed.
func (e *Executor) depsSatisfiedLocked(rec *record) bool {
	for _, dep := range rec.task.Dependencies {
		depRec, known := e.tasks[dep]
		if !known || depRec.task.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// startLocked transitions a task to Executing and launches its runner.
func (e *Executor) startLocked(rec *record, node resource.Node) {
	if !statusTransitionAllowed(rec.task.Status, StatusExecuting) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rec.task.Status = StatusExecuting
	rec.nodeID = node.ID
	rec.startedAt = e.clock.Now()
	rec.cancel = cancel
	queueDepth.Set(float64(e.activeCountLocked()))

	task := rec.task
	klog.V(4).Infof("Task %s executing on node %s", task.ID, node.ID)

	go func() {
		output, err := e.runner.Run(ctx, task, node)
		cancel()
		e.finish(task.ID, output, err)
	}()
}

// finish records a runner outcome. Deadline expiry may have already failed
// the task; terminal states win and the late result is dropped.
func (e *Executor) finish(id, output string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.tasks[id]
	if !ok || rec.task.Status != StatusExecuting {
		return
	}
	if err != nil {
		klog.Warningf("Task %s runner failed: %v", id, err)
		e.failLocked(rec, ReasonRunnerError)
		return
	}

	rec.output = output
	rec.result = e.aggregateLocked(rec)
	rec.task.Status = StatusCompleted
	tasksFinished.WithLabelValues("completed").Inc()
	taskDuration.Observe(e.clock.Since(rec.startedAt).Seconds())
	queueDepth.Set(float64(e.activeCountLocked()))
	klog.V(4).Infof("Task %s completed on node %s", id, rec.nodeID)

	if e.sink != nil {
		task, result := rec.task, rec.result
		go e.sink.TaskCompleted(task, result)
	}
}

// aggregateLocked joins dependency results in dependency order, then the
// task's own output.
func (e *Executor) aggregateLocked(rec *record) string {
	if len(rec.task.Dependencies) == 0 {
		return rec.output
	}
	parts := make([]string, 0, len(rec.task.Dependencies)+1)
	for _, dep := range rec.task.Dependencies {
		if depRec, ok := e.tasks[dep]; ok && depRec.result != "" {
			parts = append(parts, depRec.result)
		}
	}
	if rec.output != "" {
		parts = append(parts, rec.output)
	}
	return strings.Join(parts, "\n")
}

func (e *Executor) failLocked(rec *record, reason string) {
	if !statusTransitionAllowed(rec.task.Status, StatusFailed) {
		return
	}
	rec.task.Status = StatusFailed
	rec.failure = reason
	tasksFinished.WithLabelValues("failed").Inc()
	queueDepth.Set(float64(e.activeCountLocked()))

	if e.sink != nil {
		task := rec.task
		go e.sink.TaskFailed(task, reason)
	}
}

// FailureReason reports why a task failed.
func (e *Executor) FailureReason(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.tasks[id]
	if !ok || rec.task.Status != StatusFailed {
		return "", false
	}
	return rec.failure, true
}

// activeCountLocked counts non-terminal tasks against the queue capacity.
func (e *Executor) activeCountLocked() int {
	n := 0
	for _, rec := range e.tasks {
		if rec.task.Status == StatusPending || rec.task.Status == StatusExecuting {
			n++
		}
	}
	return n
}
