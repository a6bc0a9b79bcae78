// Package pool provides the job-dispatch worker pool the server submits
// per-connection and per-compaction work to (spec.md §4.B). Pool is the
// capability the server depends on; SharedQueue is the primary
// implementation, with Naive and Ants as alternatives for baseline
// comparison and for exercising a third-party scheduler respectively.
package pool

// Pool executes submitted jobs on some worker set. Spawn never blocks
// indefinitely and never reports failure to the caller; a job that panics
// must not reduce the set of workers available to future jobs, nor corrupt
// the pool (spec.md §4.B).
type Pool interface {
	// Spawn submits job for asynchronous execution. It returns immediately;
	// job runs on some worker goroutine at some later time.
	Spawn(job func())
}
