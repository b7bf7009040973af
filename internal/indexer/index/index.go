// Package index defines the identity of one registered index: its schema,
// document table, per-field spatial structures, synonym registry, alias set,
// membership rules and statistics.
//
// An Index is owned by the registry and is not safe for concurrent use; all
// access happens under the registry lock.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/doctable"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/geo"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/synonym"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

type Flags uint32

const (
	// FlagWithRules marks an index whose membership is governed by rules.
	FlagWithRules Flags = 1 << iota
)

type Stats struct {
	NumDocuments uint64 `json:"num_docs"`
	Inserted     uint64 `json:"inserted"`
	Deleted      uint64 `json:"deleted"`
}

type Index struct {
	name     string
	fields   []Field
	flags    Flags
	created  time.Time
	docs     *doctable.Table
	geo      map[string]*geo.Index
	synonyms *synonym.Map
	aliases  map[string]struct{}
	rules    rules.Set
	stats    Stats
}

// New validates the schema and builds an empty index.
func New(name string, fields []Field, flags Flags) (*Index, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "index name cannot be empty")
	}
	seen := make(map[string]struct{}, len(fields))
	ix := &Index{
		name:    name,
		fields:  append([]Field(nil), fields...),
		flags:   flags,
		created: time.Now().UTC(),
		docs:    doctable.New(),
		geo:     make(map[string]*geo.Index),
		aliases: make(map[string]struct{}),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "field name cannot be empty")
		}
		if _, dup := seen[f.Name]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Spatial() {
			ix.geo[f.Name] = geo.New(f.Name)
		}
	}
	return ix, nil
}

func (ix *Index) Name() string { return ix.name }

func (ix *Index) Fields() []Field { return append([]Field(nil), ix.fields...) }

func (ix *Index) Flags() Flags { return ix.flags }

func (ix *Index) Created() time.Time { return ix.created }

// RuleGoverned reports whether membership is driven by rules rather than by
// explicit add and delete commands.
func (ix *Index) RuleGoverned() bool { return ix.flags&FlagWithRules != 0 }

// Docs returns the authoritative document table.
func (ix *Index) Docs() *doctable.Table { return ix.docs }

// SpatialFields returns the geo structures in schema order.
func (ix *Index) SpatialFields() []*geo.Index {
	out := make([]*geo.Index, 0, len(ix.geo))
	for _, f := range ix.fields {
		if g, ok := ix.geo[f.Name]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Geo returns the geo structure of a spatial field.
func (ix *Index) Geo(field string) (*geo.Index, bool) {
	g, ok := ix.geo[field]
	return g, ok
}

// Synonyms returns the synonym registry, or nil when no synonym was ever
// added to this index.
func (ix *Index) Synonyms() *synonym.Map { return ix.synonyms }

// EnsureSynonyms returns the synonym registry, creating it on first use.
func (ix *Index) EnsureSynonyms() *synonym.Map {
	if ix.synonyms == nil {
		ix.synonyms = synonym.New()
	}
	return ix.synonyms
}

// SetSynonyms replaces the synonym registry, used by snapshot restore.
func (ix *Index) SetSynonyms(m *synonym.Map) { ix.synonyms = m }

func (ix *Index) AddAlias(alias string) { ix.aliases[alias] = struct{}{} }

func (ix *Index) RemoveAlias(alias string) { delete(ix.aliases, alias) }

// Aliases returns the alias set, sorted.
func (ix *Index) Aliases() []string {
	out := make([]string, 0, len(ix.aliases))
	for a := range ix.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Rules returns the membership rules of a rule-governed index.
func (ix *Index) Rules() *rules.Set { return &ix.rules }

func (ix *Index) Stats() Stats { return ix.stats }

// NumDocuments returns the live document counter.
func (ix *Index) NumDocuments() uint64 { return ix.stats.NumDocuments }

// DecrementDocuments lowers the live document counter after a removal.
func (ix *Index) DecrementDocuments() {
	if ix.stats.NumDocuments > 0 {
		ix.stats.NumDocuments--
	}
	ix.stats.Deleted++
}

// Document is the indexable view of an object: its key plus field values.
type Document struct {
	Key     string
	Fields  map[string]string
	Score   float64
	Payload []byte
}

// Put indexes doc. An existing key fails with ErrDocumentExists unless
// replace is set, in which case the old id is retired and its spatial
// entries dropped. Field values are validated before anything changes.
func (ix *Index) Put(doc Document, replace bool) (id uint64, replaced bool, err error) {
	if doc.Key == "" {
		return 0, false, apperrors.New(apperrors.ErrInvalidInput, 400, "document key cannot be empty")
	}
	points := make(map[string]geo.Point, len(ix.geo))
	for field := range ix.geo {
		v, ok := doc.Fields[field]
		if !ok || v == "" {
			continue
		}
		p, err := geo.ParsePoint(v)
		if err != nil {
			return 0, false, apperrors.Newf(apperrors.ErrInvalidInput, 400, "field %q: %v", field, err)
		}
		points[field] = p
	}
	oldID, exists := ix.docs.ResolveID(doc.Key)
	if exists && !replace {
		return 0, false, fmt.Errorf("document %q: %w", doc.Key, apperrors.ErrDocumentExists)
	}
	if exists {
		for _, g := range ix.geo {
			g.RemoveEntries(oldID)
		}
	}
	id, replaced = ix.docs.Put(doc.Key, doc.Score, doc.Payload)
	for field, p := range points {
		ix.geo[field].Add(id, p)
	}
	if !replaced {
		ix.stats.NumDocuments++
	}
	ix.stats.Inserted++
	return id, replaced, nil
}

// Restore re-inserts a document with a known id, used by snapshot restore.
func (ix *Index) Restore(rec doctable.Record, points map[string]geo.Point) {
	ix.docs.Restore(rec)
	for field, p := range points {
		if g, ok := ix.geo[field]; ok {
			g.Add(rec.ID, p)
		}
	}
	ix.stats.NumDocuments = uint64(ix.docs.Len())
}

// RestoreMeta applies the saved creation time, counters and id watermark.
func (ix *Index) RestoreMeta(created time.Time, stats Stats, maxID uint64) {
	ix.created = created
	stats.NumDocuments = uint64(ix.docs.Len())
	ix.stats = stats
	ix.docs.SetMaxID(maxID)
}

// Info is a read-only summary of the index.
type Info struct {
	Name          string    `json:"index_name"`
	Fields        []Field   `json:"fields"`
	RuleGoverned  bool      `json:"with_rules"`
	Aliases       []string  `json:"aliases"`
	Stats         Stats     `json:"stats"`
	MaxDocID      uint64    `json:"max_doc_id"`
	RetiredDocIDs uint64    `json:"retired_doc_ids"`
	SynonymGroups uint32    `json:"synonym_groups"`
	GeoPoints     int       `json:"geo_points"`
	Rules         int       `json:"rules"`
	Created       time.Time `json:"created"`
}

func (ix *Index) Info() Info {
	info := Info{
		Name:          ix.name,
		Fields:        ix.Fields(),
		RuleGoverned:  ix.RuleGoverned(),
		Aliases:       ix.Aliases(),
		Stats:         ix.stats,
		MaxDocID:      ix.docs.MaxID(),
		RetiredDocIDs: ix.docs.Retired(),
		Rules:         ix.rules.Len(),
		Created:       ix.created,
	}
	if ix.synonyms != nil {
		info.SynonymGroups = ix.synonyms.NextID()
	}
	for _, g := range ix.geo {
		info.GeoPoints += g.Len()
	}
	return info
}
