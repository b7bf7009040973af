// Package indexer is the index mutation coordinator. Engine owns the
// registry of indexes and runs every command against it: index lifecycle,
// document membership, aliases, synonyms and rules. Mutations hold the
// registry writer lock for their whole protocol and return the replication
// effect describing what changed; reads hold the reader lock.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/maphash"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/deletion"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/gc"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/geo"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/synonym"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/tracing"
)

type Options struct {
	// Store holds document objects. Nil means objects are not stored and
	// reads return no fields.
	Store   docstore.Store
	Metrics *metrics.Metrics
	GC      config.GCConfig
	// OnFatal handles invariant violations. The default panics.
	OnFatal func(err error)
}

// keyStripes is the number of locks adds of the same key serialize on.
const keyStripes = 64

type Engine struct {
	reg     *registry.Registry
	keys    [keyStripes]sync.Mutex
	seed    maphash.Seed
	deleter *deletion.Coordinator
	gc      *gc.Collector
	store   docstore.Store
	metrics *metrics.Metrics
	onFatal func(err error)
	logger  *slog.Logger
}

func NewEngine(opts Options) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	e := &Engine{
		reg:     registry.New(),
		seed:    maphash.MakeSeed(),
		store:   opts.Store,
		metrics: m,
		onFatal: opts.OnFatal,
		logger:  logger.WithComponent("indexer"),
	}
	if e.onFatal == nil {
		e.onFatal = func(err error) { panic(err) }
	}
	e.gc = gc.New(opts.GC, e, m)
	e.deleter = deletion.NewCoordinator(e.resolveTarget, e.gc)
	return e
}

// Start launches the garbage collector.
func (e *Engine) Start(ctx context.Context) {
	e.gc.Start(ctx)
}

// GC returns the garbage collector handle.
func (e *Engine) GC() *gc.Collector { return e.gc }

// Registry exposes the registry for read-only inspection under its lock.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// deletionTarget adapts an index to the deletion protocol.
type deletionTarget struct {
	*index.Index
}

func (t deletionTarget) DocTable() deletion.DocTable { return t.Docs() }

func (t deletionTarget) SpatialStructures() []deletion.SpatialIndex {
	fields := t.SpatialFields()
	out := make([]deletion.SpatialIndex, len(fields))
	for i, g := range fields {
		out[i] = g
	}
	return out
}

func (e *Engine) resolveTarget(name string) (deletion.Target, bool) {
	ix, ok := e.reg.Resolve(name)
	if !ok {
		return nil, false
	}
	return deletionTarget{ix}, true
}

func (e *Engine) observe(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.MutationsTotal.WithLabelValues(command, outcome).Inc()
}

// docCounts reads document counters; the caller holds the registry lock.
func docCounts(ixs ...*index.Index) map[string]uint64 {
	out := make(map[string]uint64, len(ixs))
	for _, ix := range ixs {
		out[ix.Name()] = ix.NumDocuments()
	}
	return out
}

func (e *Engine) setDocGauges(counts map[string]uint64) {
	for name, n := range counts {
		e.metrics.IndexDocCount.WithLabelValues(name).Set(float64(n))
	}
}

// CreateIndex registers an empty index. withRules makes its membership
// rule-governed.
func (e *Engine) CreateIndex(ctx context.Context, name string, fields []index.Field, withRules bool) (rec *effect.Record, err error) {
	defer func() { e.observe("create", err) }()
	var flags index.Flags
	if withRules {
		flags |= index.FlagWithRules
	}
	ix, err := index.New(name, fields, flags)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}

	e.reg.Lock()
	err = e.reg.Create(ix)
	count := e.reg.Len()
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}

	e.metrics.ActiveIndexes.Set(float64(count))
	e.metrics.IndexDocCount.WithLabelValues(name).Set(0)
	logger.FromContext(ctx).Info("index created", "index", name, "fields", len(fields), "with_rules", withRules)
	rec = effect.New(effect.CmdCreate, name)
	if withRules {
		rec.Args = append(rec.Args, "WITHRULES")
	}
	rec.Body = body
	return rec, nil
}

// DropIndex removes an index and every alias bound to it. Unless keepDocs is
// set the stored objects of its documents are removed too, after the lock
// is released.
func (e *Engine) DropIndex(ctx context.Context, name string, keepDocs bool) (rec *effect.Record, err error) {
	defer func() { e.observe("drop", err) }()
	e.reg.Lock()
	ix, ok := e.reg.Resolve(name)
	if !ok {
		e.reg.Unlock()
		return nil, fmt.Errorf("index %q: %w", name, apperrors.ErrUnknownIndex)
	}
	_, aliases, err := e.reg.Drop(ix.Name())
	var keys []string
	if err == nil && !keepDocs {
		keys = ix.Docs().Keys()
	}
	count := e.reg.Len()
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}

	e.metrics.ActiveIndexes.Set(float64(count))
	e.metrics.IndexDocCount.DeleteLabelValues(ix.Name())
	e.metrics.SynonymGroups.DeleteLabelValues(ix.Name())
	log := logger.FromContext(ctx)
	for _, key := range keys {
		e.deleteObject(ctx, ix.Name(), key)
	}
	log.Info("index dropped", "index", ix.Name(), "aliases_removed", aliases, "objects_removed", len(keys))
	rec = effect.New(effect.CmdDrop, ix.Name())
	if keepDocs {
		rec.Args = append(rec.Args, effect.FlagKeepDocs)
	}
	return rec, nil
}

// AddRequest is one document to index.
type AddRequest struct {
	Key     string            `json:"key"`
	Fields  map[string]string `json:"fields"`
	Score   float64           `json:"score,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Replace bool              `json:"replace,omitempty"`
}

// AddDocument stores the object and indexes it under a fresh internal id.
// Rule-governed indexes reject it: their membership follows the keyspace.
func (e *Engine) AddDocument(ctx context.Context, name string, req AddRequest) (rec *effect.Record, err error) {
	defer func() { e.observe("add", err) }()
	if req.Score == 0 {
		req.Score = 1
	}

	// Adds of one key run one at a time, so a second add of a new key is
	// rejected before it writes the object.
	mu := e.keyLock(req.Key)
	mu.Lock()
	defer mu.Unlock()

	// Checked before the object is written so a rejected add has no effect.
	e.reg.RLock()
	err = e.checkAddable(name, req)
	e.reg.RUnlock()
	if err != nil {
		return nil, err
	}

	var prior map[string]string
	var hadPrior, wrote bool
	if e.store != nil && len(req.Fields) > 0 {
		if prior, hadPrior, err = e.store.Get(ctx, req.Key); err != nil {
			return nil, err
		}
		if err = e.store.Put(ctx, req.Key, req.Fields); err != nil {
			return nil, err
		}
		wrote = true
	}

	e.reg.Lock()
	var ix *index.Index
	var id uint64
	var replaced bool
	var counts map[string]uint64
	if err = e.checkAddable(name, req); err == nil {
		ix, _ = e.reg.Resolve(name)
		id, replaced, err = ix.Put(index.Document{
			Key:     req.Key,
			Fields:  req.Fields,
			Score:   req.Score,
			Payload: req.Payload,
		}, req.Replace)
		counts = docCounts(ix)
	}
	e.reg.Unlock()
	if err != nil {
		if wrote {
			e.restoreObject(ctx, req.Key, prior, hadPrior)
		}
		return nil, err
	}

	e.setDocGauges(counts)
	logger.FromContext(ctx).Debug("document indexed", "index", ix.Name(), "key", req.Key, "doc_id", id, "replaced", replaced)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	rec = effect.New(effect.CmdAdd, ix.Name(), req.Key)
	if req.Replace {
		rec.Args = append(rec.Args, effect.FlagReplace)
	}
	rec.Body = body
	return rec, nil
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	return &e.keys[maphash.String(e.seed, key)%keyStripes]
}

// restoreObject puts back the object an add overwrote before the index
// refused the document.
func (e *Engine) restoreObject(ctx context.Context, key string, prior map[string]string, existed bool) {
	log := logger.FromContext(ctx)
	if _, err := e.store.Delete(ctx, key); err != nil {
		log.Error("rolling back document object", "key", key, "error", err)
		return
	}
	if !existed {
		return
	}
	if err := e.store.Put(ctx, key, maps.Clone(prior)); err != nil {
		log.Error("restoring document object", "key", key, "error", err)
	}
}

func (e *Engine) checkAddable(name string, req AddRequest) error {
	ix, err := e.reg.MustResolve(name)
	if err != nil {
		return err
	}
	if ix.RuleGoverned() {
		return fmt.Errorf("index %q: %w", ix.Name(), apperrors.ErrRulesGoverned)
	}
	if req.Key == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "document key cannot be empty")
	}
	if _, exists := ix.Docs().ResolveID(req.Key); exists && !req.Replace {
		return fmt.Errorf("document %q: %w", req.Key, apperrors.ErrDocumentExists)
	}
	return nil
}

// SetPayload replaces the payload of an indexed document.
func (e *Engine) SetPayload(ctx context.Context, name, key string, payload []byte) (rec *effect.Record, err error) {
	defer func() { e.observe("setpayload", err) }()
	e.reg.Lock()
	defer e.reg.Unlock()
	ix, err := e.reg.MustResolve(name)
	if err != nil {
		return nil, err
	}
	id, ok := ix.Docs().ResolveID(key)
	if !ok || !ix.Docs().SetPayload(id, payload) {
		return nil, fmt.Errorf("document %q: %w", key, apperrors.ErrDocumentNotFound)
	}
	rec = effect.New(effect.CmdSetPayload, ix.Name(), key)
	rec.Body = payload
	return rec, nil
}

// Document is an indexed document with its stored fields.
type Document struct {
	Key     string            `json:"key"`
	ID      uint64            `json:"id"`
	Score   float64           `json:"score"`
	Payload []byte            `json:"payload,omitempty"`
	Fields  map[string]string `json:"fields"`
}

// GetDocuments returns one entry per key, nil for keys that are not indexed.
// Objects are loaded after the reader lock is released.
func (e *Engine) GetDocuments(ctx context.Context, name string, keys ...string) ([]*Document, error) {
	out := make([]*Document, len(keys))
	e.reg.RLock()
	ix, err := e.reg.MustResolve(name)
	if err == nil {
		for i, key := range keys {
			if r, ok := ix.Docs().GetByKey(key); ok {
				out[i] = &Document{Key: r.Key, ID: r.ID, Score: r.Score, Payload: append([]byte(nil), r.Payload...)}
			}
		}
	}
	e.reg.RUnlock()
	if err != nil {
		return nil, err
	}
	if e.store == nil {
		return out, nil
	}
	for _, d := range out {
		if d == nil {
			continue
		}
		fields, ok, err := e.store.Get(ctx, d.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			d.Fields = fields
		}
	}
	return out, nil
}

// Delete removes key from the index. The outcome count is 1 when the
// document was removed and 0 when it was not indexed. With deleteObject the
// stored object is removed as well once the lock is released; a missing
// object is only logged.
func (e *Engine) Delete(ctx context.Context, name, key string, deleteObject bool) (deletion.Outcome, error) {
	_, span := tracing.StartChildSpan(ctx, "engine.delete")
	defer span.End()

	e.reg.Lock()
	out, err := e.deleter.Delete(deletion.Request{Index: name, Key: key, DeleteObject: deleteObject})
	var counts map[string]uint64
	if ix, ok := e.reg.Lookup(out.Index); ok && out.State == deletion.Done {
		counts = docCounts(ix)
	}
	e.reg.Unlock()

	span.SetAttr("state", out.State.String())
	span.SetAttr("purged", out.Purged)
	e.metrics.DeletionsTotal.WithLabelValues(out.State.String()).Inc()
	e.observe("del", err)
	if err != nil {
		return out, err
	}
	e.setDocGauges(counts)
	if out.DeleteObject {
		e.deleteObject(ctx, out.Index, key)
	}
	return out, nil
}

func (e *Engine) deleteObject(ctx context.Context, index, key string) {
	if e.store == nil {
		return
	}
	log := logger.FromContext(ctx)
	existed, err := e.store.Delete(ctx, key)
	if err != nil {
		log.Error("removing document object", "index", index, "key", key, "error", err)
		return
	}
	if !existed {
		log.Warn("document object already gone", "index", index, "key", key)
	}
}

// AliasAdd binds alias to the index called target.
func (e *Engine) AliasAdd(ctx context.Context, alias, target string) (rec *effect.Record, err error) {
	defer func() { e.observe("aliasadd", err) }()
	e.reg.Lock()
	err = e.reg.Aliases().AddByName(alias, target)
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("alias added", "alias", alias, "index", target)
	return effect.New(effect.CmdAliasAdd, alias, target), nil
}

// AliasDel removes alias.
func (e *Engine) AliasDel(ctx context.Context, alias string) (rec *effect.Record, err error) {
	defer func() { e.observe("aliasdel", err) }()
	e.reg.Lock()
	var prior string
	t, ok := e.reg.Aliases().Get(alias)
	if !ok {
		err = fmt.Errorf("alias %q: %w", alias, apperrors.ErrAliasNotFound)
	} else {
		prior = t.Name()
		err = e.reg.Aliases().Del(alias, t)
	}
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("alias removed", "alias", alias, "index", prior)
	rec = effect.New(effect.CmdAliasDel, alias)
	rec.Prior = prior
	return rec, nil
}

// AliasUpdate rebinds alias to target, creating it when unbound. Readers
// see the old binding or the new one, never neither. A failed update leaves
// the old binding in place and returns the error that caused it.
func (e *Engine) AliasUpdate(ctx context.Context, alias, target string) (rec *effect.Record, err error) {
	defer func() { e.observe("aliasupdate", err) }()
	e.reg.Lock()
	prior, err := e.reg.Aliases().Update(alias, target)
	e.reg.Unlock()
	if apperrors.IsFatal(err) {
		e.logger.Error("alias directory invariant violated", "alias", alias, "target", target, "error", err)
		e.onFatal(err)
		return nil, err
	}
	if err != nil {
		if prior != nil {
			e.metrics.AliasRollbacksTotal.Inc()
		}
		return nil, err
	}
	rec = effect.New(effect.CmdAliasUpdate, alias, target)
	if prior != nil {
		rec.Prior = prior.Name()
	}
	logger.FromContext(ctx).Info("alias updated", "alias", alias, "index", target, "prior", rec.Prior)
	return rec, nil
}

// Resolve returns the canonical index name for an index name or alias.
func (e *Engine) Resolve(name string) (string, bool) {
	e.reg.RLock()
	defer e.reg.RUnlock()
	ix, ok := e.reg.Resolve(name)
	if !ok {
		return "", false
	}
	return ix.Name(), true
}

// SynAdd creates a synonym group and returns its id. It replicates as a
// forced update so a replica stores the group under the same id.
func (e *Engine) SynAdd(ctx context.Context, name string, terms []string) (id uint32, rec *effect.Record, err error) {
	defer func() { e.observe("synadd", err) }()
	norm := synonym.Normalize(terms)
	if len(norm) == 0 {
		return 0, nil, apperrors.New(apperrors.ErrInvalidInput, 400, "synonym group needs at least one term")
	}
	e.reg.Lock()
	ix, err := e.reg.MustResolve(name)
	if err == nil {
		id, err = ix.EnsureSynonyms().AddGroup(norm)
	}
	e.reg.Unlock()
	if err != nil {
		return 0, nil, err
	}
	e.metrics.SynonymGroups.WithLabelValues(ix.Name()).Set(float64(id + 1))
	return id, synRecord(effect.CmdSynForceUpdate, ix.Name(), id, norm), nil
}

// SynUpdate adds terms to an existing group.
func (e *Engine) SynUpdate(ctx context.Context, name string, id uint32, terms []string) (*effect.Record, error) {
	return e.synUpdate(name, id, terms, true)
}

// SynForceUpdate adds terms to group id whether or not it was allocated.
// Later SynAdd calls allocate above id.
func (e *Engine) SynForceUpdate(ctx context.Context, name string, id uint32, terms []string) (*effect.Record, error) {
	return e.synUpdate(name, id, terms, false)
}

func (e *Engine) synUpdate(name string, id uint32, terms []string, validate bool) (rec *effect.Record, err error) {
	command := effect.CmdSynUpdate
	if !validate {
		command = effect.CmdSynForceUpdate
	}
	defer func() { e.observe(command, err) }()
	norm := synonym.Normalize(terms)
	if len(norm) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "synonym group needs at least one term")
	}
	e.reg.Lock()
	var next uint32
	ix, err := e.reg.MustResolve(name)
	if err == nil {
		switch {
		case validate && ix.Synonyms() == nil:
			err = fmt.Errorf("synonym group %d: %w", id, apperrors.ErrUnknownSynonymID)
		default:
			syn := ix.EnsureSynonyms()
			err = syn.UpdateGroup(id, norm, validate)
			next = syn.NextID()
		}
	}
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}
	e.metrics.SynonymGroups.WithLabelValues(ix.Name()).Set(float64(next))
	return synRecord(command, ix.Name(), id, norm), nil
}

func synRecord(command, index string, id uint32, terms []string) *effect.Record {
	args := append([]string{index, strconv.FormatUint(uint64(id), 10)}, terms...)
	return effect.New(command, args...)
}

// SynDump returns the term -> group ids view of an index's synonyms.
func (e *Engine) SynDump(ctx context.Context, name string) (synonym.Dump, error) {
	e.reg.RLock()
	defer e.reg.RUnlock()
	ix, err := e.reg.MustResolve(name)
	if err != nil {
		return nil, err
	}
	if ix.Synonyms() == nil {
		return synonym.Dump{}, nil
	}
	return ix.Synonyms().Dump(), nil
}

// RuleAdd appends a membership rule to a rule-governed index. Rules apply
// to keyspace changes from then on.
func (e *Engine) RuleAdd(ctx context.Context, name string, rule rules.Rule) (rec *effect.Record, err error) {
	defer func() { e.observe("ruleadd", err) }()
	e.reg.Lock()
	ix, err := e.reg.MustResolve(name)
	if err == nil && !ix.RuleGoverned() {
		err = apperrors.Newf(apperrors.ErrInvalidInput, 400, "index %q was not created WITHRULES", ix.Name())
	}
	if err == nil {
		err = ix.Rules().Add(rule)
	}
	e.reg.Unlock()
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("rule added", "index", ix.Name(), "rule", rule.Name, "type", rule.Type, "expr", rule.Expr)
	rec = effect.New(effect.CmdRuleAdd, ix.Name(), rule.Name, string(rule.Type), rule.Expr)
	if rule.Score != 0 {
		rec.Args = append(rec.Args, "SCORE", strconv.FormatFloat(rule.Score, 'g', -1, 64))
	}
	return rec, nil
}

// OnKeySet re-evaluates the object at key against every rule-governed index:
// matching indexes (re)index it, the others drop it if present.
func (e *Engine) OnKeySet(ctx context.Context, key string, fields map[string]string) error {
	log := logger.FromContext(ctx)
	var firstErr error
	e.reg.Lock()
	touched := make([]*index.Index, 0)
	for _, ix := range e.reg.Indexes() {
		if !ix.RuleGoverned() {
			continue
		}
		rule, ok := ix.Rules().Match(key, fields)
		if !ok {
			out, err := e.deleter.Evict(deletion.Request{Index: ix.Name(), Key: key})
			if err == nil && out.Count == 1 {
				touched = append(touched, ix)
			}
			continue
		}
		score := rule.Score
		if score == 0 {
			score = 1
		}
		if _, _, err := ix.Put(index.Document{Key: key, Fields: fields, Score: score}, true); err != nil {
			log.Warn("object rejected by rule-governed index", "index", ix.Name(), "key", key, "rule", rule.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		touched = append(touched, ix)
	}
	counts := docCounts(touched...)
	e.reg.Unlock()
	e.setDocGauges(counts)
	return firstErr
}

// OnKeyDeleted evicts key from every rule-governed index.
func (e *Engine) OnKeyDeleted(ctx context.Context, key string) error {
	e.reg.Lock()
	var touched []*index.Index
	for _, ix := range e.reg.Indexes() {
		if !ix.RuleGoverned() {
			continue
		}
		out, err := e.deleter.Evict(deletion.Request{Index: ix.Name(), Key: key})
		if err != nil {
			e.reg.Unlock()
			return err
		}
		if out.Count == 1 {
			touched = append(touched, ix)
		}
	}
	counts := docCounts(touched...)
	e.reg.Unlock()
	e.setDocGauges(counts)
	return nil
}

// Info summarises an index.
func (e *Engine) Info(ctx context.Context, name string) (index.Info, error) {
	e.reg.RLock()
	defer e.reg.RUnlock()
	ix, err := e.reg.MustResolve(name)
	if err != nil {
		return index.Info{}, err
	}
	return ix.Info(), nil
}

// GeoRadius returns the keys whose point in field lies within radius of
// center, nearest first.
func (e *Engine) GeoRadius(ctx context.Context, name, field string, center geo.Point, radius string) ([]string, error) {
	e.reg.RLock()
	defer e.reg.RUnlock()
	ix, err := e.reg.MustResolve(name)
	if err != nil {
		return nil, err
	}
	g, ok := ix.Geo(field)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "field %q is not a GEO field", field)
	}
	ids, err := g.Radius(center, radius)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "%v", err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if r, ok := ix.Docs().Get(id); ok {
			keys = append(keys, r.Key)
		}
	}
	return keys, nil
}

// ListIndexes returns the registered index names in order.
func (e *Engine) ListIndexes() []string {
	e.reg.RLock()
	defer e.reg.RUnlock()
	ixs := e.reg.Indexes()
	names := make([]string, len(ixs))
	for i, ix := range ixs {
		names[i] = ix.Name()
	}
	return names
}

// Reclaim implements gc.Scanner: it releases up to limit retired ids per
// index and drops spatial cells left empty.
func (e *Engine) Reclaim(limit int) int {
	e.reg.Lock()
	defer e.reg.Unlock()
	total := 0
	for _, ix := range e.reg.Indexes() {
		total += len(ix.Docs().Reclaim(limit))
		for _, g := range ix.SpatialFields() {
			total += g.Compact()
		}
	}
	return total
}

// Capture snapshots the whole registry under the reader lock.
func (e *Engine) Capture() *snapshot.Snapshot {
	e.reg.RLock()
	defer e.reg.RUnlock()
	return snapshot.Capture(e.reg)
}

// Restore loads snap into an empty engine.
func (e *Engine) Restore(snap *snapshot.Snapshot) error {
	e.reg.Lock()
	err := snapshot.Apply(e.reg, snap)
	counts := docCounts(e.reg.Indexes()...)
	e.reg.Unlock()
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}
	e.metrics.ActiveIndexes.Set(float64(len(counts)))
	e.setDocGauges(counts)
	e.logger.Info("snapshot restored", "indexes", len(counts), "aliases", len(snap.Aliases))
	return nil
}
