package synonym

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

func dumpMap(d Dump) map[string][]uint32 {
	out := make(map[string][]uint32, len(d))
	for term, ids := range d.All() {
		out[term] = ids
	}
	return out
}

func TestAddUpdateDumpScenario(t *testing.T) {
	m := New()

	id, err := m.AddGroup([]string{"hi", "hello"})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = m.AddGroup([]string{"bye"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	require.NoError(t, m.UpdateGroup(0, []string{"yo"}, true))

	assert.Equal(t, map[string][]uint32{
		"hi":    {0},
		"hello": {0},
		"yo":    {0},
		"bye":   {1},
	}, dumpMap(m.Dump()))
}

func TestAddGroupIDsAreGapless(t *testing.T) {
	m := New()
	for want := uint32(0); want < 20; want++ {
		if want%3 == 0 && want > 0 {
			require.NoError(t, m.UpdateGroup(want-1, []string{"extra"}, true))
		}
		got, err := m.AddGroup([]string{"t"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAddGroupRejectsEmptyTerms(t *testing.T) {
	m := New()
	_, err := m.AddGroup([]string{" ", ""})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, uint32(0), m.NextID(), "a rejected add allocates nothing")
}

func TestUpdateGroupValidatesID(t *testing.T) {
	m := New()
	_, err := m.AddGroup([]string{"a"})
	require.NoError(t, err)

	err = m.UpdateGroup(1, []string{"b"}, true)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownSynonymID))
	assert.Empty(t, m.Lookup("b"), "a rejected update leaves the map unchanged")
	assert.Equal(t, 1, m.Len())
}

func TestForceUpdateRaisesCounter(t *testing.T) {
	m := New()
	require.NoError(t, m.UpdateGroup(5, []string{"car", "auto"}, false))
	assert.Equal(t, uint32(6), m.NextID())

	id, err := m.AddGroup([]string{"bike"})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), id, "force-created ids are never handed out again")

	terms, ok := m.Group(5)
	require.True(t, ok)
	assert.Equal(t, []string{"car", "auto"}, terms)
}

func TestUpdateUnionsTerms(t *testing.T) {
	m := New()
	_, _ = m.AddGroup([]string{"a", "b"})
	require.NoError(t, m.UpdateGroup(0, []string{"B", "c"}, true))

	terms, _ := m.Group(0)
	assert.Equal(t, []string{"a", "b", "c"}, terms)
	assert.Equal(t, []uint32{0}, m.Lookup("b"), "duplicate terms do not repeat ids")
}

func TestInverseIndexConsistency(t *testing.T) {
	m := New()
	_, _ = m.AddGroup([]string{"a", "b"})
	_, _ = m.AddGroup([]string{"b", "c"})
	require.NoError(t, m.UpdateGroup(0, []string{"c", "d"}, true))
	require.NoError(t, m.UpdateGroup(4, []string{"a"}, false))
	_, _ = m.AddGroup([]string{"d"})

	for term, ids := range m.Dump().All() {
		for _, id := range ids {
			terms, ok := m.Group(id)
			require.True(t, ok)
			assert.Contains(t, terms, term)
		}
	}
	for _, g := range m.Groups() {
		for _, term := range g.Terms {
			assert.Contains(t, m.Lookup(term), g.ID)
		}
	}
	assert.Equal(t, []uint32{0, 4}, m.Lookup("a"), "ids keep insertion order")
}

func TestDumpIsStableAndRestartable(t *testing.T) {
	m := New()
	_, _ = m.AddGroup([]string{"b", "a"})
	d := m.Dump()
	_, _ = m.AddGroup([]string{"c"})

	first := dumpMap(d)
	second := dumpMap(d)
	assert.Equal(t, first, second)
	assert.NotContains(t, first, "c", "a dump does not see later changes")

	var terms []string
	for term := range d.All() {
		terms = append(terms, term)
		break
	}
	assert.Equal(t, []string{"a"}, terms)
}

func TestRestore(t *testing.T) {
	m := New()
	_, _ = m.AddGroup([]string{"x"})
	_, _ = m.AddGroup([]string{"y", "z"})

	r := Restore(m.Groups(), m.NextID())
	assert.Equal(t, m.Dump(), r.Dump())
	id, err := r.AddGroup([]string{"w"})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)
}

func TestForceUpdateNeverWrapsIDCounter(t *testing.T) {
	m := New()
	id, err := m.AddGroup([]string{"hi"})
	require.NoError(t, err)
	require.Equal(t, uint32(0), id)

	err = m.UpdateGroup(math.MaxUint32, []string{"far"}, false)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, uint32(1), m.NextID())

	require.NoError(t, m.UpdateGroup(MaxID, []string{"last"}, false))
	assert.Equal(t, uint32(math.MaxUint32), m.NextID())

	_, err = m.AddGroup([]string{"new"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	terms, ok := m.Group(0)
	require.True(t, ok)
	assert.Equal(t, []string{"hi"}, terms)
}
