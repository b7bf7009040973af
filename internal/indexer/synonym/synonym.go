// Package synonym implements the per-index synonym registry: groups of
// interchangeable terms identified by monotonically allocated ids, plus the
// inverse term -> ids index used for query expansion and dumps.
//
// Ids start at 0, are strictly increasing and are never reused. Groups are
// only ever extended; there is no group deletion. Map is not safe for
// concurrent use; callers hold the registry lock.
package synonym

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

// MaxID is the largest id a group can carry. It stays unallocated so the id
// counter never wraps.
const MaxID = math.MaxUint32 - 1

type group struct {
	terms []string
	set   map[string]struct{}
}

func (g *group) add(term string) bool {
	if _, ok := g.set[term]; ok {
		return false
	}
	g.set[term] = struct{}{}
	g.terms = append(g.terms, term)
	return true
}

type Map struct {
	groups map[uint32]*group
	nextID uint32
	byTerm map[string][]uint32
}

func New() *Map {
	return &Map{
		groups: make(map[uint32]*group),
		byTerm: make(map[string][]uint32),
	}
}

// AddGroup allocates the next id and stores terms under it.
func (m *Map) AddGroup(terms []string) (uint32, error) {
	norm := Normalize(terms)
	if len(norm) == 0 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, 400, "synonym group needs at least one term")
	}
	if m.nextID > MaxID {
		return 0, apperrors.New(apperrors.ErrInvalidInput, 400, "synonym id space exhausted")
	}
	id := m.nextID
	m.nextID++
	m.extend(id, norm)
	return id, nil
}

// UpdateGroup unions terms into group id. With validate set, an id that was
// never allocated fails with ErrUnknownSynonymID. Without it the update is
// unconditional and the id counter is raised past id, so AddGroup never
// hands out an id that already carries terms.
func (m *Map) UpdateGroup(id uint32, terms []string, validate bool) error {
	norm := Normalize(terms)
	if len(norm) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "synonym group needs at least one term")
	}
	if validate && id >= m.nextID {
		return fmt.Errorf("synonym group %d: %w", id, apperrors.ErrUnknownSynonymID)
	}
	if id > MaxID {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "synonym id %d out of range", id)
	}
	if id >= m.nextID {
		m.nextID = id + 1
	}
	m.extend(id, norm)
	return nil
}

func (m *Map) extend(id uint32, terms []string) {
	g, ok := m.groups[id]
	if !ok {
		g = &group{set: make(map[string]struct{}, len(terms))}
		m.groups[id] = g
	}
	for _, t := range terms {
		if g.add(t) {
			m.byTerm[t] = append(m.byTerm[t], id)
		}
	}
}

// Lookup returns the ids of the groups containing term, in insertion order.
func (m *Map) Lookup(term string) []uint32 {
	ids := m.byTerm[normalizeTerm(term)]
	return slices.Clone(ids)
}

// Group returns the terms of group id, in insertion order.
func (m *Map) Group(id uint32) ([]string, bool) {
	g, ok := m.groups[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(g.terms), true
}

// NextID is the id the next AddGroup will return. It equals the number of
// allocated ids.
func (m *Map) NextID() uint32 {
	return m.nextID
}

// Len returns the number of groups that carry terms.
func (m *Map) Len() int {
	return len(m.groups)
}

// Entry is one line of a dump: a term and the groups containing it.
type Entry struct {
	Term string   `json:"term"`
	IDs  []uint32 `json:"ids"`
}

// Dump is a point-in-time copy of the inverse index. Terms are sorted; ids
// keep insertion order. It stays valid after the map changes.
type Dump []Entry

// All iterates the dump. The sequence can be ranged over any number of
// times.
func (d Dump) All() iter.Seq2[string, []uint32] {
	return func(yield func(string, []uint32) bool) {
		for _, e := range d {
			if !yield(e.Term, e.IDs) {
				return
			}
		}
	}
}

// Dump snapshots the inverse index.
func (m *Map) Dump() Dump {
	terms := make([]string, 0, len(m.byTerm))
	for t := range m.byTerm {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	out := make(Dump, len(terms))
	for i, t := range terms {
		out[i] = Entry{Term: t, IDs: slices.Clone(m.byTerm[t])}
	}
	return out
}

// GroupEntry is the forward form of one group, used for snapshots.
type GroupEntry struct {
	ID    uint32   `json:"id"`
	Terms []string `json:"terms"`
}

// Groups returns every group in id order.
func (m *Map) Groups() []GroupEntry {
	out := make([]GroupEntry, 0, len(m.groups))
	for id, g := range m.groups {
		out = append(out, GroupEntry{ID: id, Terms: slices.Clone(g.terms)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore rebuilds a map from snapshot groups and the saved id counter.
func Restore(groups []GroupEntry, nextID uint32) *Map {
	m := New()
	for _, g := range groups {
		if g.ID > MaxID {
			continue
		}
		m.extend(g.ID, Normalize(g.Terms))
		if g.ID >= m.nextID {
			m.nextID = g.ID + 1
		}
	}
	if nextID > m.nextID {
		m.nextID = nextID
	}
	return m
}

// Normalize trims and lower-cases terms and drops empties and duplicates,
// keeping first-seen order.
func Normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = normalizeTerm(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func normalizeTerm(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
