package pool

import (
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// SharedQueue is the primary Pool implementation: a multi-producer,
// multi-consumer unbounded job queue feeding N long-lived workers (spec.md
// §4.B). Unlike a buffered Go channel, the queue is a plain slice guarded by
// a mutex and condition variable, so Spawn truly never blocks regardless of
// backlog depth — only available memory bounds it.
//
// A worker that panics while running a job is caught by a deferred recover
// in runJob. runWorker then starts exactly one replacement worker and
// returns, so the panicking goroutine dies and the live worker count stays
// at N — never dropping, and never growing either. This is the Go analogue
// of original_source/src/thread_pool.rs's PanicGuard::drop: spawn one
// replacement thread, then let the unwinding thread finish dying (spec.md
// §4.B, §9 "Panic isolation in the shared-queue pool").
type SharedQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func()
	closed bool

	logger  log.Logger
	workers int32 // atomic; live worker count, exposed for tests/metrics
}

// Option configures a SharedQueue.
type Option func(*SharedQueue)

// WithLogger sets the logger used to report job panics. The default is a
// no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(p *SharedQueue) { p.logger = logger }
}

// NewSharedQueue starts a pool with n long-lived workers. It panics if n < 1,
// since a pool with zero workers could never make progress.
func NewSharedQueue(n int, opts ...Option) *SharedQueue {
	if n < 1 {
		panic("pool: NewSharedQueue requires at least 1 worker")
	}
	p := &SharedQueue{logger: log.NewNopLogger()}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < n; i++ {
		p.startWorker()
	}
	return p
}

// Workers returns the current live worker count. It is intended for tests
// verifying that a job panic does not reduce it.
func (p *SharedQueue) Workers() int {
	return int(atomic.LoadInt32(&p.workers))
}

// Spawn enqueues job for execution by some worker. It never blocks.
func (p *SharedQueue) Spawn(job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.jobs = append(p.jobs, job)
	p.cond.Signal()
}

// Close stops accepting new jobs and wakes every worker blocked waiting for
// one; workers that observe a closed, empty queue exit. Jobs already
// enqueued are still drained before their workers exit. Close does not wait
// for in-flight jobs to finish; callers that need that should track
// completion themselves.
func (p *SharedQueue) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *SharedQueue) startWorker() {
	atomic.AddInt32(&p.workers, 1)
	go p.runWorker()
}

func (p *SharedQueue) runWorker() {
	defer atomic.AddInt32(&p.workers, -1)
	for {
		job, ok := p.dequeue()
		if !ok {
			return
		}
		if panicked := p.runJob(job); panicked {
			// Replace this worker before it dies, so the live count holds
			// at N instead of growing (don't also loop here) or shrinking
			// (don't skip startWorker).
			p.startWorker()
			return
		}
	}
}

func (p *SharedQueue) dequeue() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.jobs) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.jobs) == 0 {
		return nil, false
	}
	job := p.jobs[0]
	p.jobs = p.jobs[1:]
	return job, true
}

// runJob runs job, recovering a panic rather than letting it escape. It
// reports whether a panic occurred so runWorker can respawn a replacement
// and let this worker's goroutine exit, instead of continuing to loop.
func (p *SharedQueue) runJob(job func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.logger).Log("msg", "pool job panicked, respawning worker", "panic", r)
			panicked = true
		}
	}()
	job()
	return false
}
