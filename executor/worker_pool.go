package executor

import (
	"context"
	"fmt"
	"sync"

	"codeexec/lang"
	"codeexec/metrics"
	"codeexec/model"

	logrus "github.com/sirupsen/logrus"
)

// Job represents a code execution request
type Job struct {
	ctx        context.Context
	Descriptor lang.Descriptor
	Code       string
	Result     chan Result
}

// Result contains the outcome of a job
type Result struct {
	Execution model.ExecutionResult
	Error     error
}

// WorkerPool bounds how many pipelines run at once
type WorkerPool struct {
	jobs        chan Job
	pipeline    *Pipeline
	logger      *logrus.Logger
	maxWorkers  int
	maxJobCount int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

// NewWorkerPool starts maxWorkers workers reading from a queue of maxJobCount
func NewWorkerPool(pipeline *Pipeline, maxWorkers, maxJobCount int, logger *logrus.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxJobCount < 0 {
		maxJobCount = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pool := &WorkerPool{
		jobs:        make(chan Job, maxJobCount),
		pipeline:    pipeline,
		logger:      logger,
		maxWorkers:  maxWorkers,
		maxJobCount: maxJobCount,
	}

	for i := 0; i < maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i + 1)
	}
	return pool
}

// worker processes jobs until the queue is closed
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debugf("Worker %d started", id)

	for job := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		p.executeJob(id, job)
	}
	p.logger.Debugf("Worker %d shutting down due to closed channel", id)
}

// executeJob handles the execution of a single job
func (p *WorkerPool) executeJob(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker":   workerID,
				"language": job.Descriptor.ID,
				"panic":    r,
			}).Error("Job panicked")
			job.Result <- Result{Error: environmentError("worker", fmt.Errorf("panic: %v", r))}
		}
	}()

	if err := job.ctx.Err(); err != nil {
		job.Result <- Result{Error: err}
		return
	}

	res, err := p.pipeline.Execute(job.ctx, job.Descriptor, job.Code)
	job.Result <- Result{Execution: res, Error: err}
}

// ExecuteJob submits a job and waits for it. A full queue is reported at once
// with ErrQueueFull instead of blocking.
func (p *WorkerPool) ExecuteJob(ctx context.Context, d lang.Descriptor, code string) Result {
	result := make(chan Result, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Result{Error: environmentError("submit job", fmt.Errorf("worker pool is shut down"))}
	}
	select {
	case p.jobs <- Job{ctx: ctx, Descriptor: d, Code: code, Result: result}:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		return Result{Error: &Error{Kind: ErrQueueFull, Op: "submit job", Err: fmt.Errorf("job queue full, max capacity: %d", p.maxJobCount)}}
	}

	select {
	case r := <-result:
		return r
	case <-ctx.Done():
		return Result{Error: ctx.Err()}
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Println("Shutting down worker pool...")
	p.wg.Wait()
	p.logger.Println("Worker pool shutdown complete")
}

// Execute adapts ExecuteJob to the pipeline's signature.
func (p *WorkerPool) Execute(ctx context.Context, d lang.Descriptor, code string) (model.ExecutionResult, error) {
	r := p.ExecuteJob(ctx, d, code)
	return r.Execution, r.Error
}
