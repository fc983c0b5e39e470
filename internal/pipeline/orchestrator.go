package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no room.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("orchestrator stopped")
)

// OrchestratorConfig sizes the worker pool and job retention.
type OrchestratorConfig struct {
	Workers         int
	QueueSize       int
	JobTTL          time.Duration
	CleanupInterval time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.JobTTL <= 0 {
		c.JobTTL = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

// Orchestrator runs queued documents through a shared Pipeline on a fixed
// pool of workers. Each job owns its own run; nothing is shared between
// runs except the Pipeline's clients.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	pipeline *Pipeline
	sink     Sink
	log      *slog.Logger
	cfg      OrchestratorConfig

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline runner. sink may be nil.
func NewOrchestrator(p *Pipeline, sink Sink, cfg OrchestratorConfig, log *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.QueueSize),
		pipeline: p,
		sink:     sink,
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.Workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if n := o.jobs.Cleanup(); n > 0 {
					o.log.Info("expired jobs removed", "count", n)
				}
			}
		}
	}()
	o.log.Info("orchestrator started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// queued are marked failed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	for job := range o.queue {
		job.AddError("orchestrator stopped before the job ran")
		job.SetStatus(StatusFailed, "")
		job.finish()
	}
}

// Submit queues a job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrStopped
	}

	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "source", job.Source)
		return nil
	default:
		job.AddError("queue_full")
		job.SetStatus(StatusFailed, "")
		job.finish()
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.QueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// JobCount returns the number of jobs still tracked.
func (o *Orchestrator) JobCount() int {
	return o.jobs.Len()
}
