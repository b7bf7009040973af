package deletion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

type fakeDocs struct {
	ids      map[string]uint64
	calls    int
	vanishOn string
}

func (d *fakeDocs) ResolveID(key string) (uint64, bool) {
	d.calls++
	id, ok := d.ids[key]
	return id, ok
}

func (d *fakeDocs) DeleteByKey(key string) bool {
	d.calls++
	if key == d.vanishOn {
		return false
	}
	if _, ok := d.ids[key]; !ok {
		return false
	}
	delete(d.ids, key)
	return true
}

type fakeSpatial struct {
	field   string
	entries map[uint64]int
	calls   int
}

func (s *fakeSpatial) Field() string { return s.field }

func (s *fakeSpatial) RemoveEntries(id uint64) int {
	s.calls++
	n := s.entries[id]
	delete(s.entries, id)
	return n
}

type fakeTarget struct {
	name     string
	governed bool
	docs     *fakeDocs
	spatial  []*fakeSpatial
	count    int
	accessed bool
}

func (f *fakeTarget) Name() string       { return f.name }
func (f *fakeTarget) RuleGoverned() bool { return f.governed }

func (f *fakeTarget) DocTable() DocTable {
	f.accessed = true
	return f.docs
}

func (f *fakeTarget) SpatialStructures() []SpatialIndex {
	f.accessed = true
	out := make([]SpatialIndex, len(f.spatial))
	for i, s := range f.spatial {
		out[i] = s
	}
	return out
}

func (f *fakeTarget) DecrementDocuments() { f.count-- }

type countingGC struct{ hints int }

func (g *countingGC) NotifyDeletion() { g.hints++ }

func setup(target *fakeTarget) (*Coordinator, *countingGC) {
	gc := &countingGC{}
	c := NewCoordinator(func(name string) (Target, bool) {
		if name == target.name || name == "alias-of-"+target.name {
			return target, true
		}
		return nil, false
	}, gc)
	return c, gc
}

func TestSpatialDeletionScenario(t *testing.T) {
	spatial := &fakeSpatial{field: "location", entries: map[uint64]int{7: 1}}
	target := &fakeTarget{
		name:    "idx",
		docs:    &fakeDocs{ids: map[string]uint64{"doc1": 7}},
		spatial: []*fakeSpatial{spatial},
		count:   1,
	}
	c, gc := setup(target)

	var states []State
	c.OnTransition = func(_ Request, s State) { states = append(states, s) }

	out, err := c.Delete(Request{Index: "idx", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, uint64(7), out.ID)
	assert.Equal(t, 1, out.Purged)
	assert.Empty(t, spatial.entries)
	assert.Equal(t, 0, target.count)
	assert.Equal(t, 1, gc.hints)
	assert.Equal(t, []State{Validating, PolicyCheck, Resolving, PurgingSecondary, RemovingPrimary, Finalizing, Done}, states)
	assert.Equal(t, &effect.Record{Command: effect.CmdDel, Args: []string{"idx", "doc1"}}, out.Effect)
}

func TestDeleteObjectEffectForm(t *testing.T) {
	target := &fakeTarget{name: "idx", docs: &fakeDocs{ids: map[string]uint64{"doc1": 1}}}
	c, _ := setup(target)

	out, err := c.Delete(Request{Index: "alias-of-idx", Key: "doc1", DeleteObject: true})
	require.NoError(t, err)
	assert.True(t, out.DeleteObject)
	assert.Equal(t, "idx", out.Index, "the canonical name is reported")
	assert.Equal(t, "FT.DEL idx doc1 dd", out.Effect.String())
}

func TestDeletionIdempotent(t *testing.T) {
	spatial := &fakeSpatial{field: "location", entries: map[uint64]int{1: 1}}
	target := &fakeTarget{
		name:    "idx",
		docs:    &fakeDocs{ids: map[string]uint64{"doc1": 1}},
		spatial: []*fakeSpatial{spatial},
		count:   1,
	}
	c, gc := setup(target)

	out, err := c.Delete(Request{Index: "idx", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)

	spatial.calls = 0
	out, err = c.Delete(Request{Index: "idx", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, NotFound, out.State)
	assert.Equal(t, 0, out.Count)
	assert.Nil(t, out.Effect)
	assert.Zero(t, spatial.calls, "nothing is purged for an absent key")
	assert.Equal(t, 0, target.count)
	assert.Equal(t, 1, gc.hints)
}

func TestPolicyGateTouchesNothing(t *testing.T) {
	spatial := &fakeSpatial{field: "location", entries: map[uint64]int{1: 1}}
	target := &fakeTarget{
		name:     "ruled",
		governed: true,
		docs:     &fakeDocs{ids: map[string]uint64{"doc1": 1}},
		spatial:  []*fakeSpatial{spatial},
		count:    1,
	}
	c, gc := setup(target)

	for _, key := range []string{"doc1", "absent"} {
		out, err := c.Delete(Request{Index: "ruled", Key: key})
		assert.True(t, errors.Is(err, apperrors.ErrRulesGoverned), key)
		assert.Equal(t, Rejected, out.State)
		assert.Equal(t, 0, out.Count)
	}
	assert.False(t, target.accessed)
	assert.Zero(t, target.docs.calls)
	assert.Zero(t, spatial.calls)
	assert.Equal(t, 1, target.count)
	assert.Zero(t, gc.hints)
}

func TestEvictSkipsPolicyGate(t *testing.T) {
	target := &fakeTarget{
		name:     "ruled",
		governed: true,
		docs:     &fakeDocs{ids: map[string]uint64{"doc1": 1}},
		count:    1,
	}
	c, gc := setup(target)

	out, err := c.Evict(Request{Index: "ruled", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, 1, gc.hints)
}

func TestUnknownIndexRejected(t *testing.T) {
	c, _ := setup(&fakeTarget{name: "idx", docs: &fakeDocs{}})
	out, err := c.Delete(Request{Index: "nope", Key: "k"})
	assert.True(t, errors.Is(err, apperrors.ErrUnknownIndex))
	assert.Equal(t, Rejected, out.State)
}

func TestRaceWithConcurrentRemovalIsNotFound(t *testing.T) {
	spatial := &fakeSpatial{field: "location", entries: map[uint64]int{3: 1}}
	target := &fakeTarget{
		name:    "idx",
		docs:    &fakeDocs{ids: map[string]uint64{"doc1": 3}, vanishOn: "doc1"},
		spatial: []*fakeSpatial{spatial},
		count:   1,
	}
	c, gc := setup(target)

	out, err := c.Delete(Request{Index: "idx", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, NotFound, out.State)
	assert.Equal(t, 0, out.Count)
	assert.Equal(t, 1, spatial.calls, "the speculative purge ran")
	assert.Equal(t, 1, target.count)
	assert.Zero(t, gc.hints)
}

func TestPurgesEverySpatialField(t *testing.T) {
	empty := &fakeSpatial{field: "a", entries: map[uint64]int{}}
	full := &fakeSpatial{field: "b", entries: map[uint64]int{1: 1}}
	target := &fakeTarget{
		name:    "idx",
		docs:    &fakeDocs{ids: map[string]uint64{"doc1": 1}},
		spatial: []*fakeSpatial{empty, full},
		count:   1,
	}
	c, _ := setup(target)

	out, err := c.Delete(Request{Index: "idx", Key: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 1, full.calls)
	assert.Equal(t, 1, out.Purged)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "purging_secondary", PurgingSecondary.String())
	assert.Equal(t, "unknown", State(99).String())
}
