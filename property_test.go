package kvs_test

import (
	"fmt"
	"testing"

	"github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	kvs "github.com/lucasalj/kvs"
)

type op struct {
	kind  byte // 0 = set, 1 = remove
	key   string
	value string
}

// TestReplayAgainstReferenceMap is spec.md §8's headline quantified
// invariant: for a random sequence of Set/Remove operations, replaying them
// on a fresh engine and then reopening it must agree, for every key, with a
// plain in-memory reference map that applies the same operations.
func TestReplayAgainstReferenceMap(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(50, 200).Funcs(
		func(o *op, c fuzz.Continue) {
			if c.RandBool() {
				o.kind = 0
			} else {
				o.kind = 1
			}
			o.key = fmt.Sprintf("key-%d", c.Intn(30))
			o.value = fmt.Sprintf("value-%d", c.Intn(1000))
		},
	)

	for trial := 0; trial < 20; trial++ {
		var ops []op
		f.Fuzz(&ops)

		dir := t.TempDir()
		e, err := kvs.Open(dir, kvs.WithRolloverCountThreshold(37))
		require.NoError(t, err)

		reference := map[string]string{}
		for _, o := range ops {
			switch o.kind {
			case 0:
				require.NoError(t, e.Set(o.key, o.value))
				reference[o.key] = o.value
			case 1:
				err := e.Remove(o.key)
				if _, ok := reference[o.key]; ok {
					require.NoError(t, err)
					delete(reference, o.key)
				} else {
					require.ErrorIs(t, err, kvs.ErrKeyNotFound)
				}
			}
		}
		require.NoError(t, e.Close())

		e2, err := kvs.Open(dir)
		require.NoError(t, err)

		for key, want := range reference {
			got, err := e2.Get(key)
			require.NoError(t, err)
			require.NotNil(t, got, "key %q", key)
			require.Equal(t, want, *got, "key %q", key)
		}
		require.NoError(t, e2.Close())
	}
}

func TestSetGetProperty(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 100; i++ {
		var key, value string
		f.Fuzz(&key)
		f.Fuzz(&value)

		e := open(t)
		require.NoError(t, e.Set(key, value))
		got, err := e.Get(key)
		require.NoError(t, err)
		require.Equal(t, value, *got)
	}
}
