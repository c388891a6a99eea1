// Package jobs runs fire-and-forget background tasks on a bounded queue
// serviced by a fixed pool of workers.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned when the queue has no capacity for another task.
	ErrQueueFull = errors.New("job queue full")
	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("job queue closed")
)

// Task is a unit of background work. The context is cancelled when the queue
// shuts down.
type Task func(ctx context.Context)

// Queue dispatches tasks to a fixed number of worker goroutines. Enqueue
// never blocks: callers get ErrQueueFull instead of waiting.
type Queue struct {
	tasks  chan Task
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	once sync.Once
}

// NewQueue starts workers goroutines draining a queue of the given capacity.
func NewQueue(workers, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan Task, capacity),
		cancel: cancel,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx)
	}
	return q
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(ctx, task)
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panicked", "panic", r)
		}
	}()
	task(ctx)
}

// Enqueue submits a task for execution. It returns immediately with
// ErrQueueFull when the queue is at capacity.
func (q *Queue) Enqueue(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks, cancels the worker context, and waits for
// in-flight tasks to finish. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.tasks)
		q.cancel()
		q.wg.Wait()
	})
}
