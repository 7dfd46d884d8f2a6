package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultSize      = 4
	DefaultQueueSize = 64
)

var (
	// ErrPoolSaturated is returned by Submit when the queue is full. The
	// caller still owns the job.
	ErrPoolSaturated = errors.New("worker pool saturated")
	ErrPoolClosed    = errors.New("worker pool closed")
)

// Job is one accepted connection. After a successful Submit the worker
// that receives it owns Conn and must close it.
type Job struct {
	ID       uuid.UUID
	Conn     net.Conn
	Accepted time.Time
}

type HandlerFunc func(job Job)

// Pool runs a fixed number of workers that share one bounded queue.
type Pool struct {
	size   int
	jobs   chan Job
	handle HandlerFunc
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	stats struct {
		submitted atomic.Uint64
		rejected  atomic.Uint64
		completed atomic.Uint64
		panics    atomic.Uint64
	}
}

// New starts size workers. size <= 0 selects DefaultSize; a queueSize of 0
// hands jobs only to idle workers.
func New(size, queueSize int, handle HandlerFunc, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		size:   size,
		jobs:   make(chan Job, queueSize),
		handle: handle,
		logger: logger.With().Str("component", "pool").Logger(),
	}

	p.wg.Add(size)
	for i := range size {
		go p.run(i)
	}

	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.rejected.Add(1)
		return ErrPoolSaturated
	}
}

// Shutdown stops intake and waits until every queued and running job has
// finished, or until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.execute(id, job)
	}
}

// execute isolates a panicking job: its connection is closed and the
// worker moves on to the next job.
func (p *Pool) execute(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error().
				Int("worker", id).
				Str("conn_id", job.ID.String()).
				Interface("panic", r).
				Msg("job panicked")
			if job.Conn != nil {
				_ = job.Conn.Close()
			}
		}
		p.stats.completed.Add(1)
	}()

	p.handle(job)
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.size,
		Queued:    len(p.jobs),
		Submitted: p.stats.submitted.Load(),
		Rejected:  p.stats.rejected.Load(),
		Completed: p.stats.completed.Load(),
		Panics:    p.stats.panics.Load(),
	}
}

type Stats struct {
	Workers   int
	Queued    int
	Submitted uint64
	Rejected  uint64
	Completed uint64
	Panics    uint64
}

func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("workers", s.Workers).
		Int("queued", s.Queued).
		Uint64("submitted", s.Submitted).
		Uint64("rejected", s.Rejected).
		Uint64("completed", s.Completed).
		Uint64("panics", s.Panics)
}
