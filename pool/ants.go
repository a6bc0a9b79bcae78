package pool

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/panjf2000/ants/v2"
)

// Ants wraps a github.com/panjf2000/ants/v2 goroutine pool behind the Pool
// interface: spec.md §4.B's "work-stealing pool (alternative)", which wraps
// a standard scheduler with the same new/spawn contract and delegates panic
// handling to it rather than hand-rolling a sentinel.
type Ants struct {
	p      *ants.Pool
	logger log.Logger
}

// NewAnts starts an Ants pool with size workers.
func NewAnts(size int, logger log.Logger) (*Ants, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a := &Ants{logger: logger}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(i interface{}) {
		level.Error(a.logger).Log("msg", "ants pool job panicked", "panic", i)
	}))
	if err != nil {
		return nil, fmt.Errorf("pool: new ants pool: %w", err)
	}
	a.p = p
	return a, nil
}

// Spawn submits job to the underlying ants.Pool. The pool is built in ants'
// default blocking mode, so when every worker is busy Spawn waits until one
// frees up.
func (a *Ants) Spawn(job func()) {
	if err := a.p.Submit(job); err != nil {
		level.Error(a.logger).Log("msg", "ants pool submit failed", "err", err)
	}
}

// Close releases the underlying ants.Pool. It does not wait for running
// jobs to finish.
func (a *Ants) Close() {
	a.p.Release()
}
