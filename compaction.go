package kvs

import (
	"fmt"

	"github.com/lucasalj/kvs/segment"
)

// compactLocked implements the four-step algorithm from spec.md §4.C
// "Compaction": roll over if warranted so only sealed segments are ever
// targeted, build the set of byte offsets the current index still considers
// live, walk sealed segments oldest-first rewriting their live Set records
// into the active segment and retiring the file once fully scanned. It must
// be called with writeMu held.
//
// This is the Go-idiom analogue of dreamsxin-wal's truncateHeadLocked /
// truncateTailLocked: both mutate state under a stateTxn and defer the actual
// file deletion to a finalizer run once no reader can still be using the old
// segment. This engine takes the simpler "reopen per read" discipline
// (spec.md §5 option (a)) instead of that epoch-based one, so retirement can
// delete the file immediately: any Get in flight against it already holds its
// own *os.File obtained by a fresh OpenReader call, independent of the path
// being unlinked underneath it (POSIX allows reading an unlinked, still-open
// file; on Windows this engine is not intended to run concurrently with
// active readers across Remove, which is documented as a known limitation).
func (e *engine) compactLocked() error {
	if e.shouldRolloverLocked() {
		if err := e.rolloverLocked(); err != nil {
			return err
		}
	}

	st := e.st.load()
	activeOffsets := buildLiveOffsets(st)

	ids, err := segment.List(e.dir)
	if err != nil {
		return fmt.Errorf("kvs: compact: %w", err)
	}

	for _, id := range ids {
		if id >= st.activeID {
			continue
		}
		if err := e.compactSegmentLocked(id, activeOffsets[id]); err != nil {
			return err
		}
		if !e.shouldCompactLocked() {
			break
		}
	}
	e.metrics.compactionRuns.Inc()
	return nil
}

// buildLiveOffsets groups every CommandIndex currently in the index by
// segment id, giving compactSegmentLocked an O(1) membership test per record
// it scans.
func buildLiveOffsets(st *state) map[segment.ID]map[uint64]struct{} {
	out := make(map[segment.ID]map[uint64]struct{})
	itr := st.index.Iterator()
	for !itr.Done() {
		_, ci, _ := itr.Next()
		m, ok := out[ci.SegmentID]
		if !ok {
			m = make(map[uint64]struct{})
			out[ci.SegmentID] = m
		}
		m[ci.Offset] = struct{}{}
	}
	return out
}

// compactSegmentLocked rewrites every record in segment id that the index
// still considers live (present in live, and a Set rather than a Remove) into
// the active segment, then deletes the file. An I/O error anywhere in the
// scan or the rewrite aborts the pass, leaving the segment, the records
// already rewritten, and the index all exactly as they were: a key's index
// entry is only repointed at the new location once its rewritten copy has
// actually landed, so a partial pass never loses data (spec.md §4.C
// "Compaction I/O errors").
func (e *engine) compactSegmentLocked(id segment.ID, live map[uint64]struct{}) error {
	var recCount uint64
	// compactSegmentLocked is only ever called on sealed segments (id <
	// st.activeID in compactLocked), so isActive is always false: a
	// truncated trailing record here is corruption, not a write in flight.
	res, err := segment.Scan(e.dir, id, false, func(offset, length uint64, rec segment.Record) error {
		recCount++
		if rec.Kind != segment.KindSet {
			return nil
		}
		if _, ok := live[offset]; !ok {
			return nil
		}

		newOffset, newLength, err := e.activeW.Append(rec)
		if err != nil {
			return err
		}
		e.metrics.bytesWritten.Add(float64(newLength))
		// This rewritten copy is a new on-disk record in the active
		// segment; count it now so totalCmds keeps tracking "sum of
		// records across all not-yet-retired segments" exactly. It gets
		// folded into the decrement below once its own segment is, in
		// turn, retired by a later pass.
		e.totalCmds++
		e.publishIndexLocked(rec.Key, CommandIndex{SegmentID: e.activeW.ID(), Offset: newOffset, Length: newLength})

		if e.shouldRolloverLocked() {
			if err := e.rolloverLocked(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvs: compact segment %d: %w", id, err)
	}
	_ = res // EndOffset/Truncated unused here: a sealed segment was fully
	// flushed before rollover, so Scan always reaches a clean io.EOF.

	if err := segment.Remove(e.dir, id); err != nil {
		return fmt.Errorf("kvs: retire segment %d: %w", id, err)
	}
	if recCount > e.totalCmds {
		e.totalCmds = 0
	} else {
		e.totalCmds -= recCount
	}
	e.metrics.segmentsRetired.Inc()
	return nil
}
