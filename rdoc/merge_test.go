package rdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectUpdates(doc *Doc) *[][]byte {
	blobs := &[][]byte{}
	doc.OnUpdate(func(blob []byte) {
		*blobs = append(*blobs, blob)
	})
	return blobs
}

func TestMergeUpdatesCommutative(t *testing.T) {
	a := New(1)
	blobs := collectUpdates(a)
	a.SetMap(Path{"views"}, "v1", map[string]any{"id": "v1"})
	a.InsertAt(Path{"views", "v1", "rows"}, 0, "r1")
	a.SetMap(Path{"views", "v1"}, "layout", "board")
	require.Len(t, *blobs, 3)
	u := *blobs

	ab, err := MergeUpdates([][]byte{u[0], u[1]})
	require.NoError(t, err)
	ba, err := MergeUpdates([][]byte{u[1], u[0]})
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestMergeUpdatesAssociative(t *testing.T) {
	a := New(1)
	blobs := collectUpdates(a)
	a.InsertAt(Path{"items"}, 0, "x")
	a.InsertAt(Path{"items"}, 1, "y")
	a.InsertAt(Path{"items"}, 2, "z")
	u := *blobs

	xy, err := MergeUpdates([][]byte{u[0], u[1]})
	require.NoError(t, err)
	left, err := MergeUpdates([][]byte{xy, u[2]})
	require.NoError(t, err)

	yz, err := MergeUpdates([][]byte{u[1], u[2]})
	require.NoError(t, err)
	right, err := MergeUpdates([][]byte{u[0], yz})
	require.NoError(t, err)

	assert.Equal(t, left, right)
}

func TestMergeUpdatesDedup(t *testing.T) {
	a := New(1)
	blobs := collectUpdates(a)
	a.InsertAt(Path{"items"}, 0, "x", "y")
	u := (*blobs)[0]

	merged, err := MergeUpdates([][]byte{u, u, u})
	require.NoError(t, err)
	ops, err := DecodeOps(merged)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
	assert.Equal(t, u, merged)
}

func TestMergedApplyEqualsSequentialApply(t *testing.T) {
	a := New(1)
	blobs := collectUpdates(a)
	a.SetMap(Path{"views"}, "v1", map[string]any{"id": "v1"})
	a.InsertAt(Path{"views", "v1", "rows"}, 0, "r1", "r2")
	a.RemoveAt(Path{"views", "v1", "rows"}, 0, 1)
	u := *blobs

	merged, err := MergeUpdates(u)
	require.NoError(t, err)

	seq, one := New(2), New(3)
	for _, blob := range u {
		require.NoError(t, seq.ApplyUpdate(blob))
	}
	require.NoError(t, one.ApplyUpdate(merged))

	ls, _ := seq.GetList(Path{"views", "v1", "rows"})
	lo, _ := one.GetList(Path{"views", "v1", "rows"})
	assert.Equal(t, ls, lo)
	assert.Equal(t, []any{"r2"}, lo)

	ms, _ := seq.GetMap(Path{"views", "v1"})
	mo, _ := one.GetMap(Path{"views", "v1"})
	assert.Equal(t, ms, mo)
}

func TestMergeUpdatesBadBlob(t *testing.T) {
	_, err := MergeUpdates([][]byte{[]byte("garbage")})
	assert.Error(t, err)
}
