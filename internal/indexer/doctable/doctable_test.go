package doctable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAllocatesMonotonicIDs(t *testing.T) {
	tbl := New()
	a, replaced := tbl.Put("doc:a", 1, nil)
	require.False(t, replaced)
	b, _ := tbl.Put("doc:b", 1, nil)

	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint64(2), tbl.MaxID())
}

func TestPutReplaceRetiresOldID(t *testing.T) {
	tbl := New()
	old, _ := tbl.Put("doc:a", 1, []byte("p1"))
	id, replaced := tbl.Put("doc:a", 2, []byte("p2"))

	require.True(t, replaced)
	assert.NotEqual(t, old, id)
	assert.True(t, tbl.IsRetired(old))
	assert.Equal(t, 1, tbl.Len())

	rec, ok := tbl.GetByKey("doc:a")
	require.True(t, ok)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, []byte("p2"), rec.Payload)
	_, ok = tbl.Get(old)
	assert.False(t, ok)
}

func TestDeleteByKey(t *testing.T) {
	tbl := New()
	id, _ := tbl.Put("doc:a", 1, nil)

	assert.True(t, tbl.DeleteByKey("doc:a"))
	assert.False(t, tbl.DeleteByKey("doc:a"), "second delete finds nothing")

	_, ok := tbl.ResolveID("doc:a")
	assert.False(t, ok)
	assert.True(t, tbl.IsRetired(id))
	assert.Equal(t, uint64(1), tbl.Retired())
}

func TestIDsNeverReused(t *testing.T) {
	tbl := New()
	id1, _ := tbl.Put("doc:a", 1, nil)
	tbl.DeleteByKey("doc:a")
	tbl.Reclaim(0)
	id2, _ := tbl.Put("doc:a", 1, nil)
	assert.Greater(t, id2, id1)
}

func TestReclaimHonoursLimit(t *testing.T) {
	tbl := New()
	for _, k := range []string{"a", "b", "c"} {
		tbl.Put(k, 1, nil)
		tbl.DeleteByKey(k)
	}
	got := tbl.Reclaim(2)
	assert.Equal(t, []uint64{1, 2}, got)
	assert.Equal(t, uint64(1), tbl.Retired())
	assert.Equal(t, []uint64{3}, tbl.Reclaim(0))
	assert.Nil(t, tbl.Reclaim(0))
}

func TestSetPayload(t *testing.T) {
	tbl := New()
	id, _ := tbl.Put("doc:a", 1, []byte("x"))

	require.True(t, tbl.SetPayload(id, []byte("y")))
	rec, _ := tbl.Get(id)
	assert.Equal(t, []byte("y"), rec.Payload)

	require.True(t, tbl.SetPayload(id, nil))
	assert.Nil(t, rec.Payload)
	assert.False(t, tbl.SetPayload(99, []byte("z")))
}

func TestRestoreKeepsAllocationMonotonic(t *testing.T) {
	tbl := New()
	tbl.Restore(Record{ID: 7, Key: "doc:a", Score: 1})
	tbl.SetMaxID(10)
	tbl.SetMaxID(3)

	id, _ := tbl.Put("doc:b", 1, nil)
	assert.Equal(t, uint64(11), id)
	assert.Equal(t, []string{"doc:a", "doc:b"}, tbl.Keys())
}
