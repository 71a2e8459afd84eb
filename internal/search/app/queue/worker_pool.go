package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/metrics"
)

// ErrPoolClosed is returned by Submit once Wait has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of bulk work. It reports failures inside the result.
type Task func(ctx context.Context) indexing.BulkResult

// Job is the future returned by Submit.
type Job struct {
	id     int
	done   chan struct{}
	result indexing.BulkResult
}

// Result blocks until the job has resolved.
func (j *Job) Result() indexing.BulkResult {
	<-j.done
	return j.result
}

type workerTask struct {
	job *Job
	run Task
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers int
	// QueueSize bounds jobs accepted but not yet started. Submit blocks
	// once it is full.
	QueueSize int
	// TaskTimeout caps a single task; zero means no cap.
	TaskTimeout time.Duration
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers        int
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	PeakActive     int32
}

// WorkerPool runs submitted tasks on a fixed number of workers. At most
// Workers tasks execute at any instant.
type WorkerPool struct {
	mu             sync.RWMutex
	closed         bool
	started        bool
	taskQueue      chan *workerTask
	workers        int
	taskTimeout    time.Duration
	nextID         int64
	activeWorkers  int32
	peakActive     int32
	totalTasks     int64
	completedTasks int64
	failedTasks    int64
	logger         logger.Logger
	wg             sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config WorkerPoolConfig, logger logger.Logger) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 4
	}

	return &WorkerPool{
		taskQueue:   make(chan *workerTask, config.QueueSize),
		workers:     config.Workers,
		taskTimeout: config.TaskTimeout,
		logger:      logger,
	}
}

// Start launches the workers. Tasks run under ctx; cancelling it does not
// drop queued tasks, they still resolve.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	wp.logger.Debug("Starting worker pool", "workers", wp.workers, "queueSize", cap(wp.taskQueue))
	for i := 1; i <= wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run(ctx, i)
	}
}

// Submit enqueues a task and returns its future without waiting for it to
// run. It blocks only while the queue is full.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) (*Job, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return nil, ErrPoolClosed
	}

	job := &Job{id: int(atomic.AddInt64(&wp.nextID, 1)), done: make(chan struct{})}
	wt := &workerTask{job: job, run: task}

	// A free slot always wins over a cancelled ctx
	select {
	case wp.taskQueue <- wt:
		atomic.AddInt64(&wp.totalTasks, 1)
		return job, nil
	default:
	}

	select {
	case wp.taskQueue <- wt:
		atomic.AddInt64(&wp.totalTasks, 1)
		return job, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("submit job %d: %w", job.id, ctx.Err())
	}
}

// Wait stops accepting tasks and blocks until every submitted task has
// resolved. It is the join barrier before promotion.
func (wp *WorkerPool) Wait() {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.taskQueue)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}

// Stats returns the current pool counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Workers:        wp.workers,
		TotalTasks:     atomic.LoadInt64(&wp.totalTasks),
		CompletedTasks: atomic.LoadInt64(&wp.completedTasks),
		FailedTasks:    atomic.LoadInt64(&wp.failedTasks),
		PeakActive:     atomic.LoadInt32(&wp.peakActive),
	}
}

func (wp *WorkerPool) run(ctx context.Context, workerID int) {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		wp.process(ctx, workerID, task)
	}
}

func (wp *WorkerPool) process(ctx context.Context, workerID int, task *workerTask) {
	active := atomic.AddInt32(&wp.activeWorkers, 1)
	wp.recordPeak(active)
	metrics.BulkJobsInFlight.Inc()

	start := time.Now()
	result := wp.execute(ctx, task)
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.JobID = task.job.id

	atomic.AddInt32(&wp.activeWorkers, -1)
	metrics.BulkJobsInFlight.Dec()

	if result.HasFailures() {
		atomic.AddInt64(&wp.failedTasks, 1)
	} else {
		atomic.AddInt64(&wp.completedTasks, 1)
	}

	wp.logger.Debug("Job resolved", "jobId", task.job.id, "workerId", workerID, "duration", result.Duration)

	task.job.result = result
	close(task.job.done)
}

func (wp *WorkerPool) execute(ctx context.Context, task *workerTask) (result indexing.BulkResult) {
	taskCtx := ctx
	if wp.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, wp.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = indexing.BulkResult{TransportErr: fmt.Errorf("job panicked: %v", r)}
		}
	}()

	return task.run(taskCtx)
}

func (wp *WorkerPool) recordPeak(active int32) {
	for {
		peak := atomic.LoadInt32(&wp.peakActive)
		if active <= peak || atomic.CompareAndSwapInt32(&wp.peakActive, peak, active) {
			return
		}
	}
}
