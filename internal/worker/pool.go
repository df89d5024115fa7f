package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
)

// Pool errors
var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrPoolStopped = errors.New("dispatch pool is stopped")
)

// Job is one unit of background work. The context carries the per-job timeout.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue. Submit never
// blocks: a full queue rejects the job.
type Pool struct {
	jobs       chan Job
	workers    int
	jobTimeout time.Duration

	mu      sync.RWMutex
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		jobs:       make(chan Job, cfg.QueueSize),
		workers:    cfg.Workers,
		jobTimeout: cfg.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.jobs)).
		Dur("job_timeout", p.jobTimeout).
		Msg("starting worker pool")

	metrics.DispatchQueueCapacity.Set(float64(cap(p.jobs)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		metrics.DispatchQueueSize.Set(float64(len(p.jobs)))
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("%s: %w", job.Name, ErrQueueFull)
	}
}

// Stop closes the queue and waits for queued jobs to drain. If they do not
// finish within timeout the running jobs are cancelled. It reports whether the
// drain completed in time.
func (p *Pool) Stop(timeout time.Duration) bool {
	log := logger.WithComponent("worker_pool")
	log.Info().Int("queued", len(p.jobs)).Msg("stopping worker pool")

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return true
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Info().Msg("worker pool stopped")
		return true
	case <-time.After(timeout):
		log.Warn().Int("abandoned", len(p.jobs)).Msg("worker pool drain timeout - cancelling jobs")
		p.cancel()
		<-done
		return false
	}
}

// worker processes jobs from the queue until it is closed
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for job := range p.jobs {
		metrics.DispatchQueueSize.Set(float64(len(p.jobs)))
		p.run(id, job)
	}
}

// run executes one job with the pool timeout and panic recovery
func (p *Pool) run(id int, job Job) {
	log := logger.WithComponent("worker").With().
		Int("worker_id", id).
		Str("job", job.Name).
		Logger()

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("worker panic recovered")
				metrics.PanicsRecovered.WithLabelValues("worker").Inc()
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	duration := time.Since(start)

	metrics.DispatchJobDuration.Observe(duration.Seconds())

	if err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Dur("duration", duration).Msg("job failed")
		return
	}

	p.processed.Add(1)
	log.Debug().Dur("duration", duration).Msg("job completed")
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.jobs),
		Capacity:  cap(p.jobs),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}
