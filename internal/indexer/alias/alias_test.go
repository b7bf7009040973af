package alias

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

type fakeIndex struct {
	name    string
	aliases map[string]struct{}
}

func newFakeIndex(name string) *fakeIndex {
	return &fakeIndex{name: name, aliases: make(map[string]struct{})}
}

func (f *fakeIndex) Name() string             { return f.name }
func (f *fakeIndex) AddAlias(alias string)    { f.aliases[alias] = struct{}{} }
func (f *fakeIndex) RemoveAlias(alias string) { delete(f.aliases, alias) }

func (f *fakeIndex) aliasList() []string {
	out := make([]string, 0, len(f.aliases))
	for a := range f.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func newDirectory(indexes ...*fakeIndex) *Directory {
	byName := make(map[string]*fakeIndex, len(indexes))
	for _, ix := range indexes {
		byName[ix.name] = ix
	}
	return New(func(name string) (Target, bool) {
		ix, ok := byName[name]
		if !ok {
			return nil, false
		}
		return ix, true
	})
}

func TestAddUpdateScenario(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)

	require.NoError(t, d.Add("alias1", idxA))
	err := d.Add("alias1", idxB)
	assert.True(t, errors.Is(err, apperrors.ErrAliasExists))

	prior, err := d.Update("alias1", "idxB")
	require.NoError(t, err)
	assert.Equal(t, idxA, prior)

	got, ok := d.Resolve("alias1")
	require.True(t, ok)
	assert.Equal(t, "idxB", got.Name())
	assert.Empty(t, idxA.aliasList())
	assert.Equal(t, []string{"alias1"}, idxB.aliasList())
}

func TestAddTwiceLeavesStateUnchanged(t *testing.T) {
	idxA := newFakeIndex("idxA")
	d := newDirectory(idxA)

	require.NoError(t, d.Add("a", idxA))
	before := d.Bindings()
	err := d.Add("a", idxA)
	assert.True(t, errors.Is(err, apperrors.ErrAliasExists))
	assert.Equal(t, before, d.Bindings())
	assert.Equal(t, []string{"a"}, idxA.aliasList())
}

func TestAddRejectsIndexName(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)

	err := d.Add("idxB", idxA)
	assert.True(t, errors.Is(err, apperrors.ErrAliasExists))
	assert.Equal(t, 0, d.Len())
}

func TestAddByNameRejectsAliasTarget(t *testing.T) {
	idxA := newFakeIndex("idxA")
	d := newDirectory(idxA)
	require.NoError(t, d.Add("first", idxA))

	err := d.AddByName("second", "first")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownIndex))
	_, ok := d.Get("second")
	assert.False(t, ok)
}

func TestDel(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)
	require.NoError(t, d.Add("a", idxA))

	assert.True(t, errors.Is(d.Del("missing", nil), apperrors.ErrAliasNotFound))
	assert.True(t, errors.Is(d.Del("a", idxB), apperrors.ErrAliasNotFound), "bound to another index")

	require.NoError(t, d.Del("a", idxA))
	assert.Empty(t, idxA.aliasList())
	assert.True(t, errors.Is(d.Del("a", nil), apperrors.ErrAliasNotFound))
}

func TestUpdateCreatesUnboundAlias(t *testing.T) {
	idxA := newFakeIndex("idxA")
	d := newDirectory(idxA)

	prior, err := d.Update("fresh", "idxA")
	require.NoError(t, err)
	assert.Nil(t, prior)
	got, ok := d.Resolve("fresh")
	require.True(t, ok)
	assert.Equal(t, "idxA", got.Name())
}

func TestUpdateToUnknownIndexRollsBack(t *testing.T) {
	idxA := newFakeIndex("idxA")
	d := newDirectory(idxA)
	require.NoError(t, d.Add("a", idxA))

	prior, err := d.Update("a", "nope")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownIndex))
	assert.False(t, apperrors.IsFatal(err))
	assert.Equal(t, idxA, prior)

	got, ok := d.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "idxA", got.Name())
	assert.Equal(t, []string{"a"}, idxA.aliasList())
}

func TestUpdateInjectedAddFailureRollsBack(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)
	require.NoError(t, d.Add("a", idxA))

	injected := errors.New("injected")
	d.beforeAdd = func(alias string, target Target) error {
		if target == idxB {
			return injected
		}
		return nil
	}

	_, err := d.Update("a", "idxB")
	assert.ErrorIs(t, err, injected, "the original error is returned")
	got, ok := d.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "idxA", got.Name())
	assert.Empty(t, idxB.aliasList())
}

func TestUpdateFailedRestoreIsFatal(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)
	require.NoError(t, d.Add("a", idxA))

	d.beforeAdd = func(string, Target) error { return errors.New("refused") }

	_, err := d.Update("a", "idxB")
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	var iv *apperrors.InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, "alias directory", iv.Component)
}

// Readers take the read lock the way the registry's callers do; they must
// always find the alias bound while updates fail and roll back.
func TestConcurrentResolveNeverSeesGap(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)
	require.NoError(t, d.Add("a", idxA))
	d.beforeAdd = func(alias string, target Target) error {
		if target == idxB {
			return errors.New("injected")
		}
		return nil
	}

	var mu sync.RWMutex
	var wg sync.WaitGroup
	stop := make(chan struct{})
	misses := 0
	var missMu sync.Mutex

	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				mu.RLock()
				_, ok := d.Resolve("a")
				mu.RUnlock()
				if !ok {
					missMu.Lock()
					misses++
					missMu.Unlock()
				}
			}
		})
	}

	for range 500 {
		mu.Lock()
		_, err := d.Update("a", "idxB")
		mu.Unlock()
		require.Error(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, misses)
}

func TestResolvePrefersIndexNames(t *testing.T) {
	idxA := newFakeIndex("idxA")
	d := newDirectory(idxA)
	// Force a colliding binding that Add would refuse, to test the order.
	other := newFakeIndex("other")
	d.bindings["idxA"] = other

	got, ok := d.Resolve("idxA")
	require.True(t, ok)
	assert.Same(t, idxA, got)
}

func TestDropTarget(t *testing.T) {
	idxA, idxB := newFakeIndex("idxA"), newFakeIndex("idxB")
	d := newDirectory(idxA, idxB)
	require.NoError(t, d.Add("z", idxA))
	require.NoError(t, d.Add("y", idxA))
	require.NoError(t, d.Add("x", idxB))

	assert.Equal(t, []string{"y", "z"}, d.DropTarget(idxA))
	assert.Empty(t, idxA.aliasList())
	assert.Equal(t, map[string]string{"x": "idxB"}, d.Bindings())
}
