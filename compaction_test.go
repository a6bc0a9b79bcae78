package kvs_test

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	kvs "github.com/lucasalj/kvs"
)

// TestCompactionReducesBytesAndPreservesValues is the scenario from spec.md
// §8's "Boundary behaviors": compaction reduces on-disk bytes when a key has
// been overwritten many times, and preserves every current key's value.
func TestCompactionReducesBytesAndPreservesValues(t *testing.T) {
	dir := t.TempDir()
	e, err := kvs.Open(dir,
		kvs.WithCompactionCmdsThreshold(50),
		kvs.WithCompactionCmdKeyFactor(1.2),
		kvs.WithRolloverCountThreshold(10),
	)
	require.NoError(t, err)
	defer e.Close()

	const keys = 20
	for i := 0; i < keys; i++ {
		require.NoError(t, e.Set(strconv.Itoa(i), "initial"))
	}

	sizeBefore := dirSize(t, dir)

	for round := 0; round < 20; round++ {
		for i := 0; i < keys; i++ {
			require.NoError(t, e.Set(strconv.Itoa(i), "round-"+strconv.Itoa(round)))
		}
	}
	require.NoError(t, e.Compact())

	for i := 0; i < keys; i++ {
		v, err := e.Get(strconv.Itoa(i))
		require.NoError(t, err)
		require.Equal(t, "round-19", *v)
	}

	sizeAfterManyWrites := dirSize(t, dir)
	require.Greater(t, sizeAfterManyWrites, sizeBefore)

	require.NoError(t, e.Compact())
	sizeAfterCompaction := dirSize(t, dir)
	require.Less(t, sizeAfterCompaction, sizeAfterManyWrites)
}

// TestCompactionConvergence is spec.md §8 scenario 6: write 1000 distinct
// keys, overwrite them all repeatedly, reopen, and verify every key still
// returns its last-written value.
func TestCompactionConvergence(t *testing.T) {
	dir := t.TempDir()
	e, err := kvs.Open(dir,
		kvs.WithCompactionCmdsThreshold(500),
		kvs.WithCompactionCmdKeyFactor(1.1),
		kvs.WithRolloverCountThreshold(200),
	)
	require.NoError(t, err)

	const keys = 1000
	for i := 0; i < keys; i++ {
		require.NoError(t, e.Set(strconv.Itoa(i), "v0"))
	}
	for round := 1; round <= 3; round++ {
		for i := 0; i < keys; i++ {
			require.NoError(t, e.Set(strconv.Itoa(i), "v"+strconv.Itoa(round)))
		}
	}
	require.NoError(t, e.Close())

	e2, err := kvs.Open(dir)
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < keys; i++ {
		v, err := e2.Get(strconv.Itoa(i))
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Equal(t, "v3", *v)
	}
}

func dirSize(t *testing.T, dir string) int64 {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		total += info.Size()
	}
	return total
}
