// Package registry is the process-wide lookup of indexes by name and the
// owner of the reader-writer lock that guards every index structure.
//
// The lock is an explicit field, never a package global, so independent
// registries can coexist in one process. Methods other than the lock
// primitives expect the caller to hold the lock in the right mode: the
// writer side for Create, Drop and alias mutations, at least the reader side
// for lookups.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/alias"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
)

// Registry maps index names to their identities.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]*index.Index
	aliases *alias.Directory
	logger  *slog.Logger
}

func New() *Registry {
	r := &Registry{
		indexes: make(map[string]*index.Index),
		logger:  logger.WithComponent("registry"),
	}
	r.aliases = alias.New(func(name string) (alias.Target, bool) {
		ix, ok := r.indexes[name]
		if !ok {
			return nil, false
		}
		return ix, true
	})
	return r
}

func (r *Registry) Lock()    { r.mu.Lock() }
func (r *Registry) Unlock()  { r.mu.Unlock() }
func (r *Registry) RLock()   { r.mu.RLock() }
func (r *Registry) RUnlock() { r.mu.RUnlock() }

// Aliases returns the alias directory.
func (r *Registry) Aliases() *alias.Directory { return r.aliases }

// Lookup finds an index by its own name, ignoring aliases.
func (r *Registry) Lookup(name string) (*index.Index, bool) {
	ix, ok := r.indexes[name]
	return ix, ok
}

// Resolve finds an index by name, then by alias.
func (r *Registry) Resolve(name string) (*index.Index, bool) {
	t, ok := r.aliases.Resolve(name)
	if !ok {
		return nil, false
	}
	return t.(*index.Index), true
}

// MustResolve is Resolve returning ErrUnknownIndex for absent names.
func (r *Registry) MustResolve(name string) (*index.Index, error) {
	ix, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, apperrors.ErrUnknownIndex)
	}
	return ix, nil
}

// Create registers ix. The name must be free of both indexes and aliases.
func (r *Registry) Create(ix *index.Index) error {
	if _, ok := r.indexes[ix.Name()]; ok {
		return fmt.Errorf("index %q: %w", ix.Name(), apperrors.ErrIndexExists)
	}
	if _, ok := r.aliases.Get(ix.Name()); ok {
		return fmt.Errorf("index name %q is an alias: %w", ix.Name(), apperrors.ErrAliasExists)
	}
	r.indexes[ix.Name()] = ix
	r.logger.Info("index registered", "index", ix.Name(), "fields", len(ix.Fields()), "with_rules", ix.RuleGoverned())
	return nil
}

// Drop unregisters the index called name and removes every alias bound to
// it. Only index names are accepted, not aliases.
func (r *Registry) Drop(name string) (*index.Index, []string, error) {
	ix, ok := r.indexes[name]
	if !ok {
		return nil, nil, fmt.Errorf("index %q: %w", name, apperrors.ErrUnknownIndex)
	}
	removed := r.aliases.DropTarget(ix)
	delete(r.indexes, name)
	r.logger.Info("index dropped", "index", name, "aliases_removed", len(removed))
	return ix, removed, nil
}

// Indexes returns every registered index ordered by name.
func (r *Registry) Indexes() []*index.Index {
	out := make([]*index.Index, 0, len(r.indexes))
	for _, ix := range r.indexes {
		out = append(out, ix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered indexes.
func (r *Registry) Len() int {
	return len(r.indexes)
}
