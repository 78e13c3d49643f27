// Package pool runs analysis jobs on a fixed set of workers behind a
// bounded queue. Admission is explicit: a full queue rejects the job
// instead of blocking the caller.
package pool

import (
	"context"
	"sync"

	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
)

// Job is one unit of work keyed by its task id.
type Job struct {
	TaskID string
	Path   string
}

// Runner executes a job. The pool recovers panics so a bad file cannot
// take a worker down with it.
type Runner func(ctx context.Context, job Job)

type Pool struct {
	runner   Runner
	Logger   *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan Job
	inflight map[string]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	workers  int
}

func New(workers, depth int, runner Runner, log *logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.Default()
	}

	return &Pool{
		runner:   runner,
		Logger:   log.WithComponent("pool"),
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan Job, depth),
		inflight: make(map[string]struct{}),
		workers:  workers,
	}
}

func (p *Pool) Start() {
	p.Logger.Info("Starting worker pool", "workers", p.workers, "queue_depth", cap(p.queue))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

// Stop shuts the workers down and waits for running jobs to return.
// Jobs still sitting in the queue are abandoned; their task rows stay
// pending and are picked up again on the next start.
func (p *Pool) Stop() {
	p.Logger.Info("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
}

// Submit enqueues a job. A job whose task id is already queued or running
// is accepted without a second copy. When the queue is full the job is
// rejected with ErrBusy and nothing is recorded.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inflight[job.TaskID]; ok {
		return nil
	}

	select {
	case p.queue <- job:
		p.inflight[job.TaskID] = struct{}{}
		return nil
	default:
		return domain.ErrBusy
	}
}

// InFlight counts jobs queued or running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Stats reports queue occupancy for the stats endpoint.
func (p *Pool) Stats() (queued, capacity, workers int) {
	return len(p.queue), cap(p.queue), p.workers
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, job.TaskID)
		p.mu.Unlock()

		if r := recover(); r != nil {
			p.Logger.Error("Panic in worker",
				"task_id", job.TaskID,
				"path", job.Path,
				"panic", r,
			)
		}
	}()

	p.runner(p.ctx, job)
}
