package replication

import (
	"context"
	"errors"
	"sync"

	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRunnerClosed is returned when submitting to a closed runner.
	ErrRunnerClosed = errors.New("replication runner is closed")
	// ErrQueueFull is returned when the runner cannot accept more runs.
	ErrQueueFull = errors.New("replication queue is full")
)

// Executor runs one job to a terminal outcome.
type Executor interface {
	Execute(ctx context.Context, job Job) *models.FlowExecution
}

type task struct {
	ctx  context.Context
	job  Job
	done chan *models.FlowExecution
}

// Runner executes jobs on a fixed pool of workers inside this process.
// Jobs outlive the request that submitted them.
type Runner struct {
	exec  Executor
	tasks chan task
	group errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewRunner starts workers goroutines reading from a queue of queueSize.
func NewRunner(exec Executor, workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	r := &Runner{exec: exec, tasks: make(chan task, queueSize)}
	for i := 0; i < workers; i++ {
		r.group.Go(r.work)
	}
	return r
}

func (r *Runner) work() error {
	for t := range r.tasks {
		result := r.exec.Execute(t.ctx, t.job)
		t.done <- result
		close(t.done)
	}
	return nil
}

// Submit queues a job and returns a channel that receives the terminal
// record. It never blocks: a full queue yields ErrQueueFull.
func (r *Runner) Submit(ctx context.Context, job Job) (<-chan *models.FlowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}

	t := task{
		ctx:  context.WithoutCancel(ctx),
		job:  job,
		done: make(chan *models.FlowExecution, 1),
	}
	select {
	case r.tasks <- t:
		return t.done, nil
	default:
		logger.FromContext(ctx).Warn("replication queue full", zap.String("executionId", job.Execution.ID))
		return nil, ErrQueueFull
	}
}

// Dispatch submits a job without waiting for it.
func (r *Runner) Dispatch(ctx context.Context, job Job) error {
	_, err := r.Submit(ctx, job)
	return err
}

// Close stops accepting jobs, lets the queued ones finish and waits.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()
	_ = r.group.Wait()
}
