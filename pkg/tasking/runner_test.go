package tasking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, workers int) *Runner {
	t.Helper()
	r := NewRunner(workers, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func mustEnqueue(t *testing.T, r *Runner, name string, resources []string, fn Func) *Task {
	t.Helper()
	task, err := r.Enqueue(name, resources, fn)
	require.NoError(t, err)
	return task
}

func waitDone(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-task.Done():
		return task.Status().Err
	case <-ctx.Done():
		t.Fatalf("task %s did not finish", task.Name)
		return nil
	}
}

// blocker is a task body that runs until released.
type blocker struct {
	started chan struct{}
	release chan struct{}
}

func newBlocker() *blocker {
	return &blocker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) fn(ctx context.Context, _ *Task) error {
	close(b.started)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRunner_SharedResourceSerialFIFO(t *testing.T) {
	r := newTestRunner(t, 4)

	var (
		mu      sync.Mutex
		order   []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	var tasks []*Task
	for i := 1; i <= 5; i++ {
		tasks = append(tasks, mustEnqueue(t, r, "sync", []string{"repo:1"}, func(ctx context.Context, _ *Task) error {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			defer active.Add(-1)
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, task := range tasks {
		require.NoError(t, waitDone(t, task))
		assert.Equal(t, StateCompleted, task.Status().State)
	}

	assert.False(t, overlap.Load(), "tasks sharing a resource must not overlap")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestRunner_DisjointResourcesRunConcurrently(t *testing.T) {
	r := newTestRunner(t, 2)
	a, b := newBlocker(), newBlocker()

	ta := mustEnqueue(t, r, "a", []string{"repo:a"}, a.fn)
	tb := mustEnqueue(t, r, "b", []string{"repo:b"}, b.fn)

	// both start while neither has finished
	<-a.started
	<-b.started
	assert.Equal(t, StateRunning, ta.Status().State)
	assert.Equal(t, StateRunning, tb.Status().State)

	close(a.release)
	close(b.release)
	require.NoError(t, waitDone(t, ta))
	require.NoError(t, waitDone(t, tb))
}

func TestRunner_EarlierWaiterBlocksLaterOverlap(t *testing.T) {
	r := newTestRunner(t, 4)
	first := newBlocker()

	t1 := mustEnqueue(t, r, "t1", []string{"A"}, first.fn)
	<-first.started
	t2 := mustEnqueue(t, r, "t2", []string{"A", "B"}, func(context.Context, *Task) error { return nil })
	t3 := mustEnqueue(t, r, "t3", []string{"B"}, func(context.Context, *Task) error { return nil })

	// t3 only needs B, which is free, but t2 asked for it first
	assert.Equal(t, StateWaiting, t2.Status().State)
	assert.Equal(t, StateWaiting, t3.Status().State)

	close(first.release)
	require.NoError(t, waitDone(t, t1))
	require.NoError(t, waitDone(t, t2))
	require.NoError(t, waitDone(t, t3))
	assert.False(t, t3.Status().StartedAt.Before(t2.Status().StartedAt))
}

func TestRunner_WorkerLimit(t *testing.T) {
	r := newTestRunner(t, 1)
	a := newBlocker()

	ta := mustEnqueue(t, r, "a", []string{"x"}, a.fn)
	<-a.started
	tb := mustEnqueue(t, r, "b", []string{"y"}, func(context.Context, *Task) error { return nil })
	assert.Equal(t, StateWaiting, tb.Status().State)

	close(a.release)
	require.NoError(t, waitDone(t, ta))
	require.NoError(t, waitDone(t, tb))
}

func TestRunner_CancelWaiting(t *testing.T) {
	r := newTestRunner(t, 4)
	hold := newBlocker()
	ran := atomic.Bool{}

	t1 := mustEnqueue(t, r, "hold", []string{"repo"}, hold.fn)
	<-hold.started
	t2 := mustEnqueue(t, r, "victim", []string{"repo"}, func(context.Context, *Task) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, r.Cancel(t2.ID))
	assert.ErrorIs(t, waitDone(t, t2), context.Canceled)
	assert.Equal(t, StateCanceled, t2.Status().State)

	close(hold.release)
	require.NoError(t, waitDone(t, t1))
	assert.False(t, ran.Load())

	assert.ErrorIs(t, r.Cancel(t2.ID), ErrTaskFinished)
	assert.ErrorIs(t, r.Cancel("nope"), ErrTaskNotFound)
}

func TestRunner_CancelRunning(t *testing.T) {
	r := newTestRunner(t, 1)
	b := newBlocker()

	task := mustEnqueue(t, r, "long", []string{"repo"}, b.fn)
	<-b.started
	require.NoError(t, r.Cancel(task.ID))

	assert.ErrorIs(t, waitDone(t, task), context.Canceled)
	assert.Equal(t, StateCanceled, task.Status().State)

	// the reservation is free again
	next := mustEnqueue(t, r, "next", []string{"repo"}, func(context.Context, *Task) error { return nil })
	require.NoError(t, waitDone(t, next))
}

func TestRunner_FailureAndPanicRelease(t *testing.T) {
	r := newTestRunner(t, 1)
	boom := errors.New("boom")

	failed := mustEnqueue(t, r, "fail", []string{"repo"}, func(context.Context, *Task) error { return boom })
	panicked := mustEnqueue(t, r, "panic", []string{"repo"}, func(context.Context, *Task) error { panic("bad") })
	after := mustEnqueue(t, r, "after", []string{"repo"}, func(_ context.Context, task *Task) error {
		task.AddCreated("/created/1/")
		return nil
	})

	assert.ErrorIs(t, waitDone(t, failed), boom)
	assert.Equal(t, StateFailed, failed.Status().State)

	assert.Error(t, waitDone(t, panicked))
	assert.Equal(t, StateFailed, panicked.Status().State)

	require.NoError(t, waitDone(t, after))
	assert.Equal(t, []string{"/created/1/"}, after.Status().Created)
}

func TestRunner_Shutdown(t *testing.T) {
	r := NewRunner(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b := newBlocker()

	running := mustEnqueue(t, r, "running", []string{"x"}, b.fn)
	<-b.started
	queued := mustEnqueue(t, r, "queued", []string{"x"}, func(context.Context, *Task) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StateCanceled, queued.Status().State)
	assert.Equal(t, StateCanceled, running.Status().State)

	_, err = r.Enqueue("late", nil, func(context.Context, *Task) error { return nil })
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestTask_Wait(t *testing.T) {
	r := newTestRunner(t, 1)
	b := newBlocker()
	task := mustEnqueue(t, r, "w", nil, b.fn)
	<-b.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)

	close(b.release)
	assert.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, []string{}, task.Resources)
}

func TestRunner_RetentionForgetsFinishedTasks(t *testing.T) {
	r := NewRunner(2, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRetention(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	hold := newBlocker()

	done := mustEnqueue(t, r, "done", []string{"a"}, func(context.Context, *Task) error { return nil })
	require.NoError(t, waitDone(t, done))
	running := mustEnqueue(t, r, "running", []string{"b"}, hold.fn)
	<-hold.started

	require.Eventually(t, func() bool {
		r.List()
		_, ok := r.Get(done.ID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	// unfinished tasks are kept however old
	_, ok := r.Get(running.ID)
	assert.True(t, ok)
	assert.Len(t, r.List(), 1)

	close(hold.release)
	require.NoError(t, waitDone(t, running))
}

func TestRunner_NoRetentionKeepsEverything(t *testing.T) {
	r := NewRunner(1, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRetention(0))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	task := mustEnqueue(t, r, "done", nil, func(context.Context, *Task) error { return nil })
	require.NoError(t, waitDone(t, task))
	time.Sleep(5 * time.Millisecond)

	_, ok := r.Get(task.ID)
	assert.True(t, ok)
	assert.Len(t, r.List(), 1)
}
