package server

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a work item for the worker pool.
type Task func()

// WorkerPool runs command handlers on a fixed set of goroutines so that
// a burst of slow handlers cannot spawn unbounded goroutines.
//
// Unlike a fire-and-forget pool, submission never drops work: every
// request must be answered exactly once, so TrySubmit reports a full
// queue and the caller runs the task inline instead.
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	rejected    atomic.Int64
	logger      zerolog.Logger
}

// NewWorkerPool creates a pool with workerCount goroutines and a queue
// of workerCount*100 pending tasks.
func NewWorkerPool(workerCount int, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, workerCount*100),
		logger:      logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the workers. Must be called before TrySubmit, once.
// Workers exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	wp.logger.Info().Int("workers", wp.workerCount).Msg("Worker pool started")
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task := <-wp.taskQueue:
			if task != nil {
				wp.run(task)
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
}

// TrySubmit enqueues the task, reporting false when the queue is full.
// Callers that must not lose the task run it inline on false.
func (wp *WorkerPool) TrySubmit(task Task) bool {
	select {
	case wp.taskQueue <- task:
		return true
	default:
		wp.rejected.Add(1)
		return false
	}
}

// RejectedTasks returns how many submissions found the queue full.
func (wp *WorkerPool) RejectedTasks() int64 {
	return wp.rejected.Load()
}

// QueueDepth returns the number of queued tasks.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.taskQueue)
}

// Wait blocks until all workers have exited after context cancellation.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
