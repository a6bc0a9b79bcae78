package kvs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasalj/kvs/segment"
)

// maxStaleSnapshotRetries bounds how many times Get will reload its index
// snapshot and retry after a not-found open, so a genuinely missing file
// (real corruption, not a compaction race) still surfaces as an error
// instead of looping forever. Combined with staleSnapshotRetryDelay this
// gives a compaction pass a ~50ms window to finish retiring a segment and
// publish its replacement snapshot before Get gives up.
const (
	maxStaleSnapshotRetries = 50
	staleSnapshotRetryDelay = time.Millisecond
)

// Default trigger thresholds for rollover and compaction, named after the
// original kvstore's constants (original_source/src/kvstore.rs) and restated
// in spec.md §4.C.
const (
	DefaultSegmentSizeThreshold     = 1 << 30 // 1 GiB
	DefaultRolloverCountThreshold   = 5000
	DefaultCompactionCmdsThreshold  = 10000
	DefaultCompactionCmdKeyFactor   = 1.5
)

// Engine is a handle to an open key-value store. The zero value is not
// usable; construct one with Open. Engine wraps a pointer to shared state, so
// copying an Engine value (or calling Clone) produces another handle to the
// very same store, the same way dreamsxin-wal's *WAL is always handed around
// by pointer.
type Engine struct {
	e *engine
}

// Clone returns another handle to the same store. Since Engine already only
// holds a pointer, this is equivalent to a plain copy; it exists so callers
// migrating from the original kvstore's explicitly-cloneable KvsEngine trait
// have a familiar spelling, and so the server package can hand out one handle
// per connection without ambiguity about sharing.
func (kv Engine) Clone() Engine { return kv }

// engine is the private implementation shared by every Engine handle
// referencing the same store.
type engine struct {
	closed uint32 // atomic; keep first for alignment, mirroring dreamsxin-wal's WAL.closed

	dir string

	logger  log.Logger
	metrics *engineMetrics

	segSizeThreshold   uint64
	rolloverCount      uint64
	compactCmds        uint64
	compactCmdKeyRatio float64

	// st holds the current index + active segment id as an immutable
	// snapshot; readers load it without taking writeMu (see index.go).
	st stateHolder

	// writeMu serializes Set/Remove/Compact/rollover/Close, exactly as
	// dreamsxin-wal's writeMu serializes StoreLogs/Truncate*/rotate.
	writeMu sync.Mutex
	activeW *segment.Writer
	// totalCmds is the number of Set+Remove records across every segment
	// on disk (active and sealed), used by shouldCompact. It is maintained
	// incrementally under writeMu: incremented on every append, decremented
	// by a retired segment's own record count when compaction removes it.
	totalCmds uint64
}

// EngineOption configures Open. The pattern mirrors dreamsxin-wal's
// walOpt func(*WAL).
type EngineOption func(*engine)

// WithLogger sets the logger used for background diagnostics (rollover and
// compaction errors). The default is a no-op logger.
func WithLogger(logger log.Logger) EngineOption {
	return func(e *engine) { e.logger = logger }
}

// WithRegisterer sets the prometheus registerer instruments are registered
// against. The default is a fresh, private registry.
func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *engine) {
		e.metrics = newEngineMetrics(reg, func() float64 {
			return float64(e.st.load().index.Len())
		})
	}
}

// WithSegmentSizeThreshold overrides DefaultSegmentSizeThreshold.
func WithSegmentSizeThreshold(n uint64) EngineOption {
	return func(e *engine) { e.segSizeThreshold = n }
}

// WithRolloverCountThreshold overrides DefaultRolloverCountThreshold.
func WithRolloverCountThreshold(n uint64) EngineOption {
	return func(e *engine) { e.rolloverCount = n }
}

// WithCompactionCmdsThreshold overrides DefaultCompactionCmdsThreshold.
func WithCompactionCmdsThreshold(n uint64) EngineOption {
	return func(e *engine) { e.compactCmds = n }
}

// WithCompactionCmdKeyFactor overrides DefaultCompactionCmdKeyFactor.
func WithCompactionCmdKeyFactor(f float64) EngineOption {
	return func(e *engine) { e.compactCmdKeyRatio = f }
}

// Open opens or creates the data directory at dir, replaying every
// well-formed record in every existing segment to rebuild the in-memory
// index (spec.md §3, §4.C). The directory is created if it does not exist.
// A partially-written trailing record in the most recent segment is
// tolerated and discarded, per spec.md §8's crash-recovery invariant.
func Open(dir string, opts ...EngineOption) (Engine, error) {
	e := &engine{
		dir:                dir,
		segSizeThreshold:   DefaultSegmentSizeThreshold,
		rolloverCount:      DefaultRolloverCountThreshold,
		compactCmds:        DefaultCompactionCmdsThreshold,
		compactCmdKeyRatio: DefaultCompactionCmdKeyFactor,
		logger:             log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		// A fresh registry, not prometheus.DefaultRegisterer: multiple
		// Engines are routinely opened in one process (every test in this
		// package does), and registering the same metric names against the
		// shared default registry twice panics. WithRegisterer opts into
		// sharing one explicitly.
		e.metrics = newEngineMetrics(prometheus.NewRegistry(), func() float64 {
			return float64(e.st.load().index.Len())
		})
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Engine{}, fmt.Errorf("kvs: open %q: %w", dir, err)
	}

	ids, err := segment.List(dir)
	if err != nil {
		if errors.Is(err, segment.ErrMalformedName) {
			return Engine{}, fmt.Errorf("kvs: open %q: %w: %v", dir, ErrInvalidSegmentName, err)
		}
		return Engine{}, fmt.Errorf("kvs: open %q: %w", dir, err)
	}

	st := newEmptyState()
	var total uint64

	if len(ids) == 0 {
		w, err := segment.Create(dir, 0)
		if err != nil {
			return Engine{}, fmt.Errorf("kvs: open %q: %w", dir, err)
		}
		e.activeW = w
		e.st.store(st)
		e.totalCmds = 0
		return Engine{e: e}, nil
	}

	activeID := ids[len(ids)-1]
	for _, id := range ids {
		res, err := segment.Scan(dir, id, id == activeID, func(offset, length uint64, rec segment.Record) error {
			ci := CommandIndex{SegmentID: id, Offset: offset, Length: length}
			switch rec.Kind {
			case segment.KindSet:
				st.index = st.index.Set(rec.Key, ci)
			case segment.KindRemove:
				st.index = st.index.Delete(rec.Key)
			}
			return nil
		})
		if err != nil {
			return Engine{}, fmt.Errorf("kvs: replay segment %d: %w", id, err)
		}
		total += res.Count

		if id == activeID {
			w, err := segment.OpenForAppend(dir, id, res.EndOffset, res.Count)
			if err != nil {
				return Engine{}, fmt.Errorf("kvs: open %q: %w", dir, err)
			}
			e.activeW = w
		}
	}

	st.activeID = activeID
	e.st.store(st)
	e.totalCmds = total

	return Engine{e: e}, nil
}

// Set binds key to value, appending a record to the active segment and
// atomically publishing a new index snapshot that points at it (spec.md §4.C
// "Set"). After the write, rollover and compaction are each checked and
// triggered synchronously if warranted, exactly as the original kvstore's
// set() does at the end of every write.
func (kv Engine) Set(key, value string) error {
	return kv.e.set(key, value)
}

func (e *engine) set(key, value string) error {
	if atomic.LoadUint32(&e.closed) != 0 {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	offset, length, err := e.activeW.Append(segment.Record{Kind: segment.KindSet, Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("kvs: set %q: %w", key, err)
	}
	e.metrics.bytesWritten.Add(float64(length))
	e.totalCmds++

	e.publishIndexLocked(key, CommandIndex{SegmentID: e.activeW.ID(), Offset: offset, Length: length})
	e.metrics.sets.Inc()

	e.afterWriteLocked()
	return nil
}

// Get looks up key in the index and, on a hit, reads the record it points at
// from its segment (spec.md §4.C "Get"). A miss returns (nil, nil); only an
// I/O or decode failure returns a non-nil error.
func (kv Engine) Get(key string) (*string, error) {
	return kv.e.get(key)
}

func (e *engine) get(key string) (*string, error) {
	if atomic.LoadUint32(&e.closed) != 0 {
		return nil, ErrClosed
	}
	e.metrics.gets.Inc()

	// A snapshot loaded here can name a segment that a concurrent compaction
	// pass rewrites-and-retires before the OpenReader below runs: reopen per
	// read (spec.md §5 option (a)) means that open happens after, not under,
	// the snapshot read, so POSIX unlink-after-open doesn't cover this gap.
	// Retry against a freshly loaded snapshot on a not-found open: the key's
	// live copy (if any) has by then been repointed at wherever compaction
	// rewrote it.
	st := e.st.load()
	for attempt := 0; ; attempt++ {
		ci, ok := st.index.Get(key)
		if !ok {
			return nil, nil
		}

		rec, err := e.readRecordAt(ci)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && attempt < maxStaleSnapshotRetries {
				// Give a concurrent compaction pass a moment to finish
				// publishing its new snapshot rather than busy-spinning
				// through the whole retry budget in a handful of
				// microseconds.
				time.Sleep(staleSnapshotRetryDelay)
				st = e.st.load()
				continue
			}
			return nil, fmt.Errorf("kvs: get %q: %w", key, err)
		}
		if rec.Kind != segment.KindSet {
			return nil, fmt.Errorf("kvs: get %q: %w", key, ErrCorrupt)
		}
		return &rec.Value, nil
	}
}

// readRecordAt opens ci's segment, reads the single record it points at, and
// closes the handle. Split out of get so the stale-snapshot retry loop above
// can distinguish "segment gone" (retry) from "decode failure" (hard error)
// without duplicating the open/read/close sequence.
func (e *engine) readRecordAt(ci CommandIndex) (segment.Record, error) {
	r, err := segment.OpenReader(e.dir, ci.SegmentID)
	if err != nil {
		return segment.Record{}, err
	}
	defer r.Close()

	return r.ReadAt(ci.Offset, ci.Length)
}

// Remove deletes key, appending a tombstone record if and only if the index
// currently has a live entry for it (spec.md §4.C "Remove"). On a miss,
// ErrKeyNotFound is returned and nothing is written.
func (kv Engine) Remove(key string) error {
	return kv.e.remove(key)
}

func (e *engine) remove(key string) error {
	if atomic.LoadUint32(&e.closed) != 0 {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	st := e.st.load()
	if _, ok := st.index.Get(key); !ok {
		e.metrics.removeMisses.Inc()
		return ErrKeyNotFound
	}

	_, length, err := e.activeW.Append(segment.Record{Kind: segment.KindRemove, Key: key})
	if err != nil {
		return fmt.Errorf("kvs: remove %q: %w", key, err)
	}
	e.metrics.bytesWritten.Add(float64(length))
	e.totalCmds++

	e.removeIndexLocked(key)
	e.metrics.removes.Inc()

	e.afterWriteLocked()
	return nil
}

// Compact runs one compaction pass immediately, whether or not the
// triggering thresholds are currently met. The pass always processes the
// oldest sealed segment, and goes on to later ones only while
// shouldCompactLocked still reports the thresholds exceeded. It is exposed
// for callers (the server's periodic ticker, tests) that want to force
// reclamation rather than wait for afterWriteLocked's automatic check.
func (kv Engine) Compact() error {
	return kv.e.compact()
}

func (e *engine) compact() error {
	if atomic.LoadUint32(&e.closed) != 0 {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.compactLocked()
}

// Close flushes and closes the active segment. Further operations on any
// handle sharing this engine return ErrClosed. Close is idempotent.
func (kv Engine) Close() error {
	return kv.e.close()
}

func (e *engine) close() error {
	if atomic.SwapUint32(&e.closed, 1) != 0 {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.activeW.Close(); err != nil {
		return fmt.Errorf("kvs: close: %w", err)
	}
	return nil
}

// publishIndexLocked and removeIndexLocked apply one key's worth of change to
// the current snapshot and atomically publish the result. Every mutation
// path (Set, Remove, and compaction's key rewrite) funnels through these so
// the copy-on-write discipline in index.go is the single place the index
// ever actually changes.
func (e *engine) publishIndexLocked(key string, ci CommandIndex) {
	st := e.st.load()
	newSt := st.clone()
	newSt.index = newSt.index.Set(key, ci)
	e.st.store(newSt)
}

func (e *engine) removeIndexLocked(key string) {
	st := e.st.load()
	newSt := st.clone()
	newSt.index = newSt.index.Delete(key)
	e.st.store(newSt)
}

// afterWriteLocked runs the same two checks after every Set/Remove: is
// compaction warranted, and (whether or not compaction ran) is rollover now
// warranted. Errors from either are logged rather than propagated to the
// caller, since the write they're piggybacking on already succeeded and
// spec.md §4.C requires both failure modes to leave the store in a correct,
// retriable state rather than fail the write.
func (e *engine) afterWriteLocked() {
	if e.shouldCompactLocked() {
		if err := e.compactLocked(); err != nil {
			e.metrics.compactionErrors.Inc()
			level.Error(e.logger).Log("msg", "compaction pass aborted", "err", err)
		}
	}
	if e.shouldRolloverLocked() {
		if err := e.rolloverLocked(); err != nil {
			level.Error(e.logger).Log("msg", "segment rollover failed, will retry", "err", err)
		}
	}
}

func (e *engine) shouldRolloverLocked() bool {
	return e.activeW.Offset() > e.segSizeThreshold || e.activeW.Count() > e.rolloverCount
}

func (e *engine) shouldCompactLocked() bool {
	live := e.st.load().index.Len()
	if live == 0 {
		return false
	}
	return e.totalCmds > e.compactCmds && float64(e.totalCmds)/float64(live) > e.compactCmdKeyRatio
}

// rolloverLocked seals the current active segment by simply ceasing to write
// to it (no explicit "seal" record is needed: segment.List always reports
// every id < the new active id as sealed) and opens the next one. Rollover
// I/O errors leave the previous active segment as the one still in use; the
// engine retries on the next write, per spec.md §4.C.
func (e *engine) rolloverLocked() error {
	newID := e.activeW.ID() + 1
	w, err := segment.Create(e.dir, newID)
	if err != nil {
		return fmt.Errorf("kvs: rollover to segment %d: %w", newID, err)
	}
	if err := e.activeW.Close(); err != nil {
		level.Error(e.logger).Log("msg", "error closing sealed segment", "id", e.activeW.ID(), "err", err)
	}
	e.activeW = w

	st := e.st.load()
	newSt := st.clone()
	newSt.activeID = newID
	e.st.store(newSt)

	e.metrics.segmentRollovers.Inc()
	return nil
}
