package segment

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileNameRoundTrip(t *testing.T) {
	name := FileName(42)
	require.Equal(t, "db000000000042.log", name)
	id, ok := ParseID(name)
	require.True(t, ok)
	require.Equal(t, ID(42), id)
}

func TestParseIDRejectsNonSegmentNames(t *testing.T) {
	_, ok := ParseID("not-a-segment")
	require.False(t, ok)
	_, ok = ParseID("db123.txt")
	require.False(t, ok)
}

func TestCreateAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 0)
	require.NoError(t, err)

	offset, length, err := w.Append(Record{Kind: KindSet, Key: "k", Value: "v"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)
	require.NoError(t, w.Close())

	r, err := OpenReader(dir, 0)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.ReadAt(offset, length)
	require.NoError(t, err)
	require.Equal(t, Record{Kind: KindSet, Key: "k", Value: "v"}, rec)
}

func TestScanReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 0)
	require.NoError(t, err)

	var wantOffsets []uint64
	for i := 0; i < 10; i++ {
		off, _, err := w.Append(Record{Kind: KindSet, Key: "k", Value: "v"})
		require.NoError(t, err)
		wantOffsets = append(wantOffsets, off)
	}
	require.NoError(t, w.Close())

	var gotOffsets []uint64
	res, err := Scan(dir, 0, true, func(offset, length uint64, rec Record) error {
		gotOffsets = append(gotOffsets, offset)
		return nil
	})
	require.NoError(t, err)
	require.False(t, res.Truncated)
	require.Equal(t, uint64(10), res.Count)
	require.Equal(t, wantOffsets, gotOffsets)
}

func TestScanTruncatedTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 0)
	require.NoError(t, err)
	_, _, err = w.Append(Record{Kind: KindSet, Key: "k", Value: "v"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Append a truncated trailing record by hand, simulating a crash
	// mid-write.
	f, err := os.OpenFile(path(dir, 0), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(KindSet), 0x00, 0x00, 0x00, 0x03, 'k', 'e'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := Scan(dir, 0, true, func(offset, length uint64, rec Record) error { return nil })
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Equal(t, uint64(1), res.Count)
}

func TestScanTruncatedTrailingRecordInSealedSegmentIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 0)
	require.NoError(t, err)
	_, _, err = w.Append(Record{Kind: KindSet, Key: "k", Value: "v"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path(dir, 0), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(KindSet), 0x00, 0x00, 0x00, 0x03, 'k', 'e'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Same truncated file, but scanned as a sealed (non-active) segment: a
	// trailing partial record there can't be a write in progress, so it must
	// surface as corruption instead of being silently discarded.
	_, err = Scan(dir, 0, false, func(offset, length uint64, rec Record) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenForAppendTruncatesToEndOffset(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 0)
	require.NoError(t, err)
	off, length, err := w.Append(Record{Kind: KindSet, Key: "k", Value: "v"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Leave more stray bytes past endOffset than the next record will
	// overwrite, so only a real truncation brings the file back to size.
	f, err := os.OpenFile(path(dir, 0), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := OpenForAppend(dir, 0, off+length, 1)
	require.NoError(t, err)
	off2, length2, err := w2.Append(Record{Kind: KindSet, Key: "k2", Value: "v2"})
	require.NoError(t, err)
	require.Equal(t, off+length, off2)
	require.NoError(t, w2.Close())

	info, err := os.Stat(path(dir, 0))
	require.NoError(t, err)
	require.Equal(t, int64(off2+length2), info.Size())
}

func TestListAndRemove(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []ID{0, 1, 5} {
		w, err := Create(dir, id)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	ids, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []ID{0, 1, 5}, ids)

	require.NoError(t, Remove(dir, 1))
	ids, err = List(dir)
	require.NoError(t, err)
	require.Equal(t, []ID{0, 5}, ids)
}
