package queue

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// ErrPoolStopped is returned when enqueueing after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool runs pipeline tasks on a fixed number of goroutines
type WorkerPool struct {
	taskQueue   chan *Task
	workerCount int

	mu      sync.RWMutex
	stopped bool
	started bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		taskQueue:   make(chan *Task, queueSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	log.Printf("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Enqueue adds a task to the queue, blocking while the queue is full
func (wp *WorkerPool) Enqueue(task *Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrPoolStopped
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	wp.taskQueue <- task
	log.Printf("Task enqueued (job: %s, kind: %s)", task.JobID, task.Kind)
	return nil
}

// Stop closes the queue and waits for workers to finish queued tasks
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.taskQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	log.Println("Worker pool stopped")
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log.Printf("Worker %d started", id)

	for task := range wp.taskQueue {
		wp.runTask(id, task)
	}
}

// runTask executes one task with panic recovery
func (wp *WorkerPool) runTask(workerID int, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
				workerID, task.JobID, r, string(debug.Stack()))
		}
	}()

	log.Printf("Worker %d: Processing job %s (%s, waited %s)",
		workerID, task.JobID, task.Kind, time.Since(task.EnqueuedAt).Round(time.Millisecond))
	task.Run(wp.ctx)
}
