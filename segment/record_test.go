package segment

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := []Record{
		{Kind: KindSet, Key: "k", Value: "v"},
		{Kind: KindSet, Key: "", Value: ""},
		{Kind: KindRemove, Key: "k"},
	}
	for _, rec := range cases {
		buf := make([]byte, rec.EncodedLen())
		n := rec.Write(buf)
		require.Equal(t, len(buf), n)

		got, rn, err := Read(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, n, rn)
		if rec.Kind == KindRemove {
			rec.Value = ""
		}
		require.Equal(t, rec, got)
	}
}

func TestReadCleanEOF(t *testing.T) {
	_, _, err := Read(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadTruncatedRecord(t *testing.T) {
	rec := Record{Kind: KindSet, Key: "key", Value: "value"}
	buf := make([]byte, rec.EncodedLen())
	rec.Write(buf)

	for cut := 1; cut < len(buf); cut++ {
		_, _, err := Read(bytes.NewReader(buf[:cut]))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
}

func TestReadUnknownKind(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x00, 0x00, 0x00}
	_, _, err := Read(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrCorrupt)
}
