// Package segment implements the on-disk segment file format used by the
// storage engine: a dense, append-only sequence of length-prefixed records,
// plus the open-for-append writer and positioned reader handles described in
// spec.md §3/§4.C. It is grounded on dreamsxin-wal/segment/reader.go's
// per-segment Reader and on other_examples/.../Epokhe-bitdb/core/segment.go's
// length-prefixed record header and replay scanner, adapted from a WAL's
// single-variant frame to the engine's two-variant Set/Remove command.
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind tags the two record variants a segment can hold.
type Kind uint8

const (
	// KindSet marks a record that binds Key to Value.
	KindSet Kind = iota
	// KindRemove marks a tombstone for Key.
	KindRemove
)

// Record is the logical, in-memory form of one segment entry. This is the
// on-disk analogue of the original kvstore's `Command` enum
// (original_source/src/kvstore.rs), re-encoded with an explicit
// length-prefixed layout instead of bincode framing.
type Record struct {
	Kind  Kind
	Key   string
	Value string // unused when Kind == KindRemove
}

// headerLen is the fixed-width prefix before the key bytes: 1 byte kind + 4
// byte big-endian key length.
const headerLen = 1 + 4

// EncodedLen returns the number of bytes Write will emit for r.
func (r Record) EncodedLen() int {
	n := headerLen + len(r.Key)
	if r.Kind == KindSet {
		n += 4 + len(r.Value)
	}
	return n
}

// Write serializes r into buf, which must be at least r.EncodedLen() bytes
// long, and returns the number of bytes written.
func (r Record) Write(buf []byte) int {
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(r.Key)))
	n := headerLen
	n += copy(buf[n:], r.Key)
	if r.Kind == KindSet {
		binary.BigEndian.PutUint32(buf[n:n+4], uint32(len(r.Value)))
		n += 4
		n += copy(buf[n:], r.Value)
	}
	return n
}

// ErrCorrupt is returned when a record's header is structurally invalid
// (unknown kind tag). Truncation mid-record is reported as
// io.ErrUnexpectedEOF instead, since spec.md requires callers to tolerate a
// partially-written trailing record at open time.
var ErrCorrupt = fmt.Errorf("segment: corrupt record")

// Read decodes one record from r, which must be positioned at a record
// boundary. A clean io.EOF at the boundary (no bytes read at all) is
// returned unchanged to mean "no more records". Any truncation after at
// least one byte has been consumed is reported as io.ErrUnexpectedEOF, which
// Scan treats as a tolerated partial trailing write.
func Read(r io.Reader) (Record, int, error) {
	var hdr [headerLen]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return Record{}, 0, io.EOF
		}
		return Record{}, n, io.ErrUnexpectedEOF
	}

	kind := Kind(hdr[0])
	if kind != KindSet && kind != KindRemove {
		return Record{}, n, fmt.Errorf("%w: unknown record kind %d", ErrCorrupt, hdr[0])
	}
	keyLen := binary.BigEndian.Uint32(hdr[1:5])

	key := make([]byte, keyLen)
	kn, err := io.ReadFull(r, key)
	n += kn
	if err != nil {
		return Record{}, n, io.ErrUnexpectedEOF
	}

	if kind == KindRemove {
		return Record{Kind: KindRemove, Key: string(key)}, n, nil
	}

	var valLenBuf [4]byte
	vn, err := io.ReadFull(r, valLenBuf[:])
	n += vn
	if err != nil {
		return Record{}, n, io.ErrUnexpectedEOF
	}
	valLen := binary.BigEndian.Uint32(valLenBuf[:])

	value := make([]byte, valLen)
	vn, err = io.ReadFull(r, value)
	n += vn
	if err != nil {
		return Record{}, n, io.ErrUnexpectedEOF
	}

	return Record{Kind: KindSet, Key: string(key), Value: string(value)}, n, nil
}
