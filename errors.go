package kvs

import "errors"

// Sentinel errors returned by the storage engine. Callers should use
// errors.Is to test for them since they may be wrapped with additional
// context as they propagate up through the engine and server layers.
var (
	// ErrKeyNotFound is returned by Remove when the key has no live entry
	// in the index.
	ErrKeyNotFound = errors.New("kvs: key not found")

	// ErrCorrupt is returned by Get when an index entry points at a record
	// that decodes but is not a Set. Records that fail to decode, and
	// sealed segments that end mid-record, surface as the segment
	// package's errors (segment.ErrCorrupt, io.ErrUnexpectedEOF) wrapped
	// in the returned error instead.
	ErrCorrupt = errors.New("kvs: corrupt record")

	// ErrClosed is returned by any engine operation performed after Close.
	ErrClosed = errors.New("kvs: engine closed")

	// ErrInvalidSegmentName is returned by Open when the data directory
	// contains a file that looks like a segment but does not parse.
	ErrInvalidSegmentName = errors.New("kvs: invalid segment file name")
)
