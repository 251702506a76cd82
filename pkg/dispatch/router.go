// Package dispatch routes work to named executors. Every session owns one
// executor, so executions that share a session run serially without the
// session state needing its own locking. Callers already running on the
// target executor get their work run inline; everyone else enqueues.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
)

type executorKey struct{}

// WithExecutor tags ctx with the executor the caller is running on.
func WithExecutor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, executorKey{}, name)
}

// ExecutorFrom returns the executor tag on ctx, or "" when untagged.
func ExecutorFrom(ctx context.Context) string {
	name, _ := ctx.Value(executorKey{}).(string)
	return name
}

// Task is a unit of work bound to an executor.
type Task func(ctx context.Context)

type executor struct {
	name  string
	queue chan Task
}

// Router owns a set of executors, each a single goroutine draining its own
// queue. Executors are created on first dispatch and torn down with the
// router.
type Router struct {
	mu        sync.Mutex
	executors map[string]*executor
	queueSize int
	closed    bool
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

// NewRouter creates a router whose executor queues hold queueSize pending
// tasks. queueSize <= 0 selects a small default.
func NewRouter(queueSize int, logger zerolog.Logger) *Router {
	observability.EnsureRegistered()
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		executors: make(map[string]*executor),
		queueSize: queueSize,
		baseCtx:   ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Dispatch runs task on the named executor. A caller already on that
// executor runs it inline; otherwise the task is enqueued and runs on the
// executor's goroutine with a context tagged for nested dispatches.
func (r *Router) Dispatch(ctx context.Context, name string, task Task) error {
	if ExecutorFrom(ctx) == name {
		observability.RecordDispatch("inline")
		task(ctx)
		return nil
	}

	exec, err := r.executorFor(name)
	if err != nil {
		return err
	}

	select {
	case exec.queue <- task:
		observability.RecordDispatch("queued")
		observability.SetDispatchQueueDepth(name, len(exec.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) executorFor(name string) (*executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("dispatch router is closed")
	}
	if exec, ok := r.executors[name]; ok {
		return exec, nil
	}

	exec := &executor{
		name:  name,
		queue: make(chan Task, r.queueSize),
	}
	r.executors[name] = exec

	r.wg.Add(1)
	go r.serve(exec)
	r.logger.Debug().Str("executor", name).Msg("Executor started")

	return exec, nil
}

func (r *Router) serve(exec *executor) {
	defer r.wg.Done()
	ctx := WithExecutor(r.baseCtx, exec.name)

	for {
		select {
		case <-r.baseCtx.Done():
			return
		case task := <-exec.queue:
			observability.SetDispatchQueueDepth(exec.name, len(exec.queue))
			task(ctx)
		}
	}
}

// Retire removes an idle executor. Dispatching to the name again creates a
// fresh one.
func (r *Router) Retire(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, name)
}

// Close stops all executors. Queued tasks that have not started are
// dropped.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
