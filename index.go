package kvs

import (
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/lucasalj/kvs/segment"
)

// CommandIndex points at the most recent Set record for a key: which
// segment it lives in, and its byte range within that segment. This is the
// Go analogue of original_source/src/kvstore.rs's CommandIndex, widened
// with an explicit Length since this repo's on-disk records are
// variable-width and not self-delimiting from a fixed bincode size the way
// the original's were.
type CommandIndex struct {
	SegmentID segment.ID
	Offset    uint64
	Length    uint64
}

// state is an immutable snapshot of everything a reader needs: the key to
// CommandIndex mapping and which segment is currently active. It is held
// behind an atomic.Value and swapped wholesale under the writer mutex on
// every Set/Remove/Compact, the same copy-on-write discipline
// dreamsxin-wal's WAL uses for its own *state (wal.go's s atomic.Value,
// loadState/mutateStateLocked). Readers load a snapshot without taking any
// lock; a Get sees either the pre-write or the post-write state of a given
// key, never a half-updated entry, because immutable.SortedMap.Set returns
// a new map rather than mutating the old one in place.
type state struct {
	index    *immutable.SortedMap[string, CommandIndex]
	activeID segment.ID
}

// newEmptyState returns the state for a freshly created data directory: an
// empty index with segment 0 active.
func newEmptyState() *state {
	return &state{index: &immutable.SortedMap[string, CommandIndex]{}, activeID: 0}
}

// clone returns a shallow copy of s suitable for mutation by exactly one
// writer; the underlying SortedMap is itself immutable so sharing it
// between the old and new state is safe until one of them calls Set/Delete
// on it, which yields yet another new map rather than mutating either.
func (s *state) clone() *state {
	return &state{index: s.index, activeID: s.activeID}
}

// stateHolder is held by engine (its st field) to give every reader a lock-free,
// always-consistent view of the index while writers serialize through
// writeMu to publish new snapshots.
type stateHolder struct {
	v atomic.Value // *state
}

func (h *stateHolder) store(s *state) { h.v.Store(s) }

func (h *stateHolder) load() *state { return h.v.Load().(*state) }
