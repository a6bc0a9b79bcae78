package pool

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Naive spawns a fresh goroutine per submitted job: no queueing, no fixed
// worker set, no backpressure. Retained for baseline comparison against
// SharedQueue; spec.md §4.B marks it "not recommended for production paths"
// since an unbounded burst of jobs creates an unbounded burst of goroutines.
type Naive struct {
	logger log.Logger
}

// NewNaive returns a Naive pool. logger receives job panics; pass
// log.NewNopLogger() for silence.
func NewNaive(logger log.Logger) *Naive {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Naive{logger: logger}
}

// Spawn starts job on its own goroutine immediately.
func (p *Naive) Spawn(job func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				level.Error(p.logger).Log("msg", "naive pool job panicked", "panic", r)
			}
		}()
		job()
	}()
}
