package tasking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskFinished  = errors.New("task already finished")
	ErrRunnerStopped = errors.New("task runner is shut down")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Final() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context, t *Task) error

// Task is the handle of one queued unit of work.
type Task struct {
	ID        string
	Name      string
	Resources []string
	CreatedAt time.Time

	fn     Func
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	err        error
	created    []string
	startedAt  time.Time
	finishedAt time.Time
}

// Status is a consistent copy of a task's mutable fields.
type Status struct {
	ID         string
	Name       string
	State      State
	Resources  []string
	Created    []string
	Err        error
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		ID:         t.ID,
		Name:       t.Name,
		State:      t.state,
		Resources:  append([]string(nil), t.Resources...),
		Created:    append([]string(nil), t.created...),
		Err:        t.err,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
}

// AddCreated records a resource the task produced (e.g. a version href).
func (t *Task) AddCreated(href string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created = append(t.created, href)
}

// Done is closed when the task reaches a final state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Status().Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(state State, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.finishedAt = time.Now().UTC()
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner executes tasks on a bounded number of workers. A task starts only
// when none of its resources is held by a running task or requested by a
// task queued before it, so tasks sharing a resource run in FIFO order.
type Runner struct {
	workers   int
	retention time.Duration
	logger    *slog.Logger

	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	waiting []*Task
	held    map[string]string // resource -> running task id
	tasks   map[string]*Task
	running int
	closed  bool
}

// DefaultRetention is how long finished tasks stay visible.
const DefaultRetention = 24 * time.Hour

type Option func(*Runner)

// WithRetention forgets finished tasks once they are older than d.
// Zero or less keeps them for the runner's lifetime.
func WithRetention(d time.Duration) Option {
	return func(r *Runner) { r.retention = d }
}

func NewRunner(workers int, logger *slog.Logger, opts ...Option) *Runner {
	if workers <= 0 {
		workers = 1
	}
	root, cancel := context.WithCancel(context.Background())
	r := &Runner{
		workers:    workers,
		retention:  DefaultRetention,
		logger:     logger,
		root:       root,
		cancelRoot: cancel,
		held:       make(map[string]string),
		tasks:      make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue queues fn under the given resource reservations.
func (r *Runner) Enqueue(name string, resources []string, fn Func) (*Task, error) {
	ctx, cancel := context.WithCancel(r.root)
	t := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Resources: dedup(resources),
		CreatedAt: time.Now().UTC(),
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateWaiting,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		cancel()
		return nil, ErrRunnerStopped
	}
	r.pruneLocked()
	r.tasks[t.ID] = t
	r.waiting = append(r.waiting, t)
	r.logger.Debug("task queued", "task", t.ID, "name", name, "resources", t.Resources)
	r.dispatchLocked()
	return t, nil
}

func (r *Runner) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns all known tasks, oldest first.
func (r *Runner) List() []*Task {
	r.mu.Lock()
	r.pruneLocked()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cancel drops a waiting task at once; a running task has its context
// canceled and finishes as canceled when its body returns.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	switch t.Status().State {
	case StateWaiting:
		r.removeWaitingLocked(t)
		t.finish(StateCanceled, context.Canceled)
		r.logger.Info("task canceled", "task", t.ID, "name", t.Name)
		r.dispatchLocked()
	case StateRunning:
		t.cancel()
	default:
		return fmt.Errorf("%w: %s", ErrTaskFinished, id)
	}
	return nil
}

// Shutdown stops accepting tasks, cancels the waiting ones and waits for
// running ones; when ctx expires first, running tasks are canceled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.waiting {
		t.finish(StateCanceled, ErrRunnerStopped)
	}
	r.waiting = nil
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancelRoot()
		return nil
	case <-ctx.Done():
		r.cancelRoot()
		<-done
		return ctx.Err()
	}
}

// dispatchLocked starts every waiting task whose reservations can be
// granted, scanning in queue order.
func (r *Runner) dispatchLocked() {
	blocked := make(map[string]struct{})
	remaining := r.waiting[:0]

	for _, t := range r.waiting {
		if r.running < r.workers && r.grantableLocked(t, blocked) {
			r.startLocked(t)
			continue
		}
		for _, res := range t.Resources {
			blocked[res] = struct{}{}
		}
		remaining = append(remaining, t)
	}
	// clear the tail so finished tasks can be collected
	for i := len(remaining); i < len(r.waiting); i++ {
		r.waiting[i] = nil
	}
	r.waiting = remaining
}

func (r *Runner) grantableLocked(t *Task, blocked map[string]struct{}) bool {
	for _, res := range t.Resources {
		if _, ok := r.held[res]; ok {
			return false
		}
		if _, ok := blocked[res]; ok {
			return false
		}
	}
	return true
}

func (r *Runner) startLocked(t *Task) {
	for _, res := range t.Resources {
		r.held[res] = t.ID
	}
	r.running++

	t.mu.Lock()
	t.state = StateRunning
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()

	r.wg.Add(1)
	go r.run(t)
}

func (r *Runner) run(t *Task) {
	defer r.wg.Done()
	start := time.Now()
	r.logger.Info("task started", "task", t.ID, "name", t.Name)

	err := r.call(t)

	// reservations are released on every exit path
	r.mu.Lock()
	for _, res := range t.Resources {
		if r.held[res] == t.ID {
			delete(r.held, res)
		}
	}
	r.running--

	switch {
	case err == nil:
		t.finish(StateCompleted, nil)
		r.logger.Info("task completed", "task", t.ID, "name", t.Name, "duration", time.Since(start))
	case t.ctx.Err() != nil:
		t.finish(StateCanceled, err)
		r.logger.Info("task canceled", "task", t.ID, "name", t.Name, "duration", time.Since(start))
	default:
		t.finish(StateFailed, err)
		r.logger.Warn("task failed", "task", t.ID, "name", t.Name, "error", err, "duration", time.Since(start))
	}

	r.dispatchLocked()
	r.mu.Unlock()
}

// call runs the body, turning a panic into a task failure.
func (r *Runner) call(t *Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "task", t.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return t.fn(t.ctx, t)
}

// pruneLocked drops finished tasks past the retention window.
func (r *Runner) pruneLocked() {
	if r.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-r.retention)
	for id, t := range r.tasks {
		st := t.Status()
		if st.State.Final() && st.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
		}
	}
}

func (r *Runner) removeWaitingLocked(t *Task) {
	for i, w := range r.waiting {
		if w == t {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return
		}
	}
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
