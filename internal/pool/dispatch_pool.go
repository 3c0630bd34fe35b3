// Package pool provides a bounded goroutine pool for worker dispatch.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job is one dispatched execution. Jobs are fire-and-forget: the submitter
// never waits and failures are reported through the job's own completion
// path, not the pool.
type Job func(ctx context.Context)

// DispatchPool bounds the number of goroutines running worker executions so
// a flood of assignments cannot grow goroutines without limit.
type DispatchPool struct {
	maxWorkers  int
	jobQueue    chan jobWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type jobWrapper struct {
	job Job
	ctx context.Context
}

// Config configures the pool.
type Config struct {
	MaxWorkers   int           `yaml:"max_workers" json:"max_workers"`
	QueueSize    int           `yaml:"queue_size" json:"queue_size"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	PanicHandler func(any)     `yaml:"-" json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  64,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// New creates a dispatch pool.
func New(config Config) *DispatchPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &DispatchPool{
		maxWorkers:   config.MaxWorkers,
		jobQueue:     make(chan jobWrapper, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit hands a job to the pool without waiting for it to run.
func (p *DispatchPool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	wrapper := jobWrapper{job: job, ctx: ctx}

	select {
	case p.jobQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.jobQueue <- wrapper:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *DispatchPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *DispatchPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *DispatchPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.jobQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			p.runJob(wrapper)
			p.activeCount.Add(-1)
			p.completed.Add(1)

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Idle timeout, exit if we have more than minimum workers
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *DispatchPool) runJob(wrapper jobWrapper) {
	defer func() {
		if r := recover(); r != nil && p.panicHandler != nil {
			p.panicHandler(r)
		}
	}()
	wrapper.job(wrapper.ctx)
}

// Close closes the pool and waits for in-flight jobs to finish.
func (p *DispatchPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.jobQueue)
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *DispatchPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.jobQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}
