package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/doctable"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/geo"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/synonym"
)

// Snapshot is the full persisted state of a registry.
type Snapshot struct {
	CreatedAt time.Time         `json:"created_at"`
	Indexes   []IndexState      `json:"indexes"`
	Aliases   map[string]string `json:"aliases,omitempty"`
}

type IndexState struct {
	Name      string        `json:"name"`
	Fields    []index.Field `json:"fields"`
	Flags     index.Flags   `json:"flags"`
	Created   time.Time     `json:"created"`
	Stats     index.Stats   `json:"stats"`
	MaxDocID  uint64        `json:"max_doc_id"`
	Documents []Document    `json:"documents,omitempty"`
	Rules     []rules.Rule  `json:"rules,omitempty"`
	// Synonyms is nil for an index that never used synonyms.
	Synonyms *SynonymState `json:"synonyms,omitempty"`
}

type SynonymState struct {
	NextID uint32               `json:"next_id"`
	Groups []synonym.GroupEntry `json:"groups"`
}

type Document struct {
	ID      uint64            `json:"id"`
	Key     string            `json:"key"`
	Score   float64           `json:"score,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Points  map[string]string `json:"points,omitempty"`
}

// Capture copies the registry state. The caller holds at least the reader
// lock. Retired ids are not captured: a restored table starts with nothing
// to reclaim and allocates above the saved watermark.
func Capture(reg *registry.Registry) *Snapshot {
	snap := &Snapshot{
		CreatedAt: time.Now().UTC(),
		Aliases:   reg.Aliases().Bindings(),
	}
	for _, ix := range reg.Indexes() {
		st := IndexState{
			Name:     ix.Name(),
			Fields:   ix.Fields(),
			Flags:    ix.Flags(),
			Created:  ix.Created(),
			Stats:    ix.Stats(),
			MaxDocID: ix.Docs().MaxID(),
			Rules:    ix.Rules().Rules(),
		}
		spatial := ix.SpatialFields()
		for _, rec := range ix.Docs().Records() {
			doc := Document{ID: rec.ID, Key: rec.Key, Score: rec.Score, Payload: rec.Payload}
			for _, g := range spatial {
				if p, ok := g.Point(rec.ID); ok {
					if doc.Points == nil {
						doc.Points = make(map[string]string, len(spatial))
					}
					doc.Points[g.Field()] = p.String()
				}
			}
			st.Documents = append(st.Documents, doc)
		}
		if syn := ix.Synonyms(); syn != nil {
			st.Synonyms = &SynonymState{NextID: syn.NextID(), Groups: syn.Groups()}
		}
		snap.Indexes = append(snap.Indexes, st)
	}
	return snap
}

// Apply rebuilds the registry from snap. The caller holds the writer lock
// and reg must be empty.
func Apply(reg *registry.Registry, snap *Snapshot) error {
	if reg.Len() != 0 {
		return fmt.Errorf("restoring snapshot into a non-empty registry (%d indexes)", reg.Len())
	}
	for _, st := range snap.Indexes {
		ix, err := index.New(st.Name, st.Fields, st.Flags)
		if err != nil {
			return fmt.Errorf("restoring index %q: %w", st.Name, err)
		}
		for _, d := range st.Documents {
			points := make(map[string]geo.Point, len(d.Points))
			for field, v := range d.Points {
				p, err := geo.ParsePoint(v)
				if err != nil {
					return fmt.Errorf("restoring index %q document %q: %w", st.Name, d.Key, err)
				}
				points[field] = p
			}
			ix.Restore(doctable.Record{ID: d.ID, Key: d.Key, Score: d.Score, Payload: d.Payload}, points)
		}
		ix.RestoreMeta(st.Created, st.Stats, st.MaxDocID)
		for _, r := range st.Rules {
			if err := ix.Rules().Add(r); err != nil {
				return fmt.Errorf("restoring index %q rule %q: %w", st.Name, r.Name, err)
			}
		}
		if st.Synonyms != nil {
			ix.SetSynonyms(synonym.Restore(st.Synonyms.Groups, st.Synonyms.NextID))
		}
		if err := reg.Create(ix); err != nil {
			return fmt.Errorf("restoring index %q: %w", st.Name, err)
		}
	}
	aliases := make([]string, 0, len(snap.Aliases))
	for a := range snap.Aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		if err := reg.Aliases().AddByName(a, snap.Aliases[a]); err != nil {
			return fmt.Errorf("restoring alias %q: %w", a, err)
		}
	}
	return nil
}
