package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Submit when the job queue cannot take more work.
var ErrQueueFull = errors.New("analysis queue is full")

// Job is one queued analysis request.
type Job struct {
	JobID  string
	RunID  string
	RunDir string
	// Force re-analyzes the run even when results already exist on disk.
	Force bool
}

// Pool runs analysis jobs on a bounded set of workers with a bounded queue.
// Submissions beyond the queue capacity are rejected rather than buffered,
// which keeps memory bounded and makes backpressure visible to API clients.
type Pool struct {
	engine  *Engine
	jobs    chan Job
	logger  *slog.Logger
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewPool starts workers consuming from a queue of queueSize jobs. The pool
// runs until ctx is cancelled.
func NewPool(ctx context.Context, engine *Engine, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	p := &Pool{
		engine: engine,
		jobs:   make(chan Job, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.engine.AnalyzeRun(ctx, job); err != nil {
				p.logger.Error("analysis job failed",
					"worker", id, "job_id", job.JobID, "run_id", job.RunID, "error", err)
			}
		}
	}
}

// Submit enqueues a job without blocking. ErrQueueFull signals the caller to
// retry later.
func (p *Pool) Submit(job Job) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return errors.New("analysis pool is shut down")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for in-flight jobs to finish.
func (p *Pool) Shutdown() {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.closeMu.Unlock()
	p.wg.Wait()
}
