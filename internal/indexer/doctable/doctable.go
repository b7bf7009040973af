// Package doctable implements the authoritative document table of an index:
// a bidirectional map between external document keys and internal numeric
// ids, plus an optional payload per id.
//
// Ids are allocated monotonically starting at 1 and are never reused for the
// life of the table; 0 means "not present". Ids removed from the table are
// parked in a retired set until the garbage collector reclaims them.
//
// Table is not safe for concurrent use. Callers hold the registry lock.
package doctable

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Record is one indexed document.
type Record struct {
	ID      uint64
	Key     string
	Payload []byte
	Score   float64
}

type Table struct {
	byKey   map[string]uint64
	byID    map[uint64]*Record
	maxID   uint64
	retired *roaring64.Bitmap
}

func New() *Table {
	return &Table{
		byKey:   make(map[string]uint64),
		byID:    make(map[uint64]*Record),
		retired: roaring64.New(),
	}
}

// Put allocates a fresh id for key. If key was already present its previous
// id is retired and replaced is true.
func (t *Table) Put(key string, score float64, payload []byte) (id uint64, replaced bool) {
	if old, ok := t.byKey[key]; ok {
		t.retire(old)
		replaced = true
	}
	t.maxID++
	id = t.maxID
	rec := &Record{ID: id, Key: key, Score: score}
	if len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
	}
	t.byKey[key] = id
	t.byID[id] = rec
	return id, replaced
}

// ResolveID returns the internal id for key.
func (t *Table) ResolveID(key string) (uint64, bool) {
	id, ok := t.byKey[key]
	return id, ok
}

// Get returns the record for an internal id.
func (t *Table) Get(id uint64) (*Record, bool) {
	rec, ok := t.byID[id]
	return rec, ok
}

// GetByKey returns the record for an external key.
func (t *Table) GetByKey(key string) (*Record, bool) {
	id, ok := t.byKey[key]
	if !ok {
		return nil, false
	}
	return t.Get(id)
}

// DeleteByKey removes key from the table and reports whether it was present.
func (t *Table) DeleteByKey(key string) bool {
	id, ok := t.byKey[key]
	if !ok {
		return false
	}
	t.retire(id)
	return true
}

// SetPayload replaces the payload of id and reports whether id exists.
func (t *Table) SetPayload(id uint64, payload []byte) bool {
	rec, ok := t.byID[id]
	if !ok {
		return false
	}
	if len(payload) == 0 {
		rec.Payload = nil
		return true
	}
	rec.Payload = append([]byte(nil), payload...)
	return true
}

// Len returns the number of live documents.
func (t *Table) Len() int {
	return len(t.byKey)
}

// MaxID returns the highest id ever allocated.
func (t *Table) MaxID() uint64 {
	return t.maxID
}

// Keys returns the live keys in id order.
func (t *Table) Keys() []string {
	recs := t.Records()
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys
}

// Records returns the live records in id order.
func (t *Table) Records() []*Record {
	out := make([]*Record, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Retired returns the number of ids waiting to be reclaimed.
func (t *Table) Retired() uint64 {
	return t.retired.GetCardinality()
}

// IsRetired reports whether id was removed and not yet reclaimed.
func (t *Table) IsRetired(id uint64) bool {
	return t.retired.Contains(id)
}

// Reclaim drops up to limit retired ids (all when limit <= 0) and returns
// them in ascending order.
func (t *Table) Reclaim(limit int) []uint64 {
	if t.retired.IsEmpty() {
		return nil
	}
	ids := t.retired.ToArray()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		t.retired.Remove(id)
	}
	return ids
}

// Restore inserts a record with a known id, used when loading a snapshot.
// maxID is raised so later allocations stay monotonic.
func (t *Table) Restore(rec Record) {
	r := rec
	t.byKey[r.Key] = r.ID
	t.byID[r.ID] = &r
	if r.ID > t.maxID {
		t.maxID = r.ID
	}
}

// SetMaxID raises the allocation watermark. Lower values are ignored.
func (t *Table) SetMaxID(id uint64) {
	if id > t.maxID {
		t.maxID = id
	}
}

func (t *Table) retire(id uint64) {
	rec, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	delete(t.byKey, rec.Key)
	t.retired.Add(id)
}
