// Package alias implements the alias directory: alternate names that
// resolve to a registered index.
//
// An alias is never also an index name, resolves to exactly one index and
// never points at another alias. Directory is not safe for concurrent use;
// the registry serialises access with its reader-writer lock, which is what
// makes Update atomic to readers.
package alias

import (
	"fmt"
	"log/slog"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
)

// Target is the index side of a binding. Targets track their own alias set.
type Target interface {
	Name() string
	AddAlias(alias string)
	RemoveAlias(alias string)
}

// Lookup finds a registered index by its own name. It must never consult
// aliases.
type Lookup func(name string) (Target, bool)

type Directory struct {
	bindings map[string]Target
	lookup   Lookup
	logger   *slog.Logger

	// beforeAdd, when set, runs before every insertion and can veto it.
	beforeAdd func(alias string, target Target) error
}

func New(lookup Lookup) *Directory {
	return &Directory{
		bindings: make(map[string]Target),
		lookup:   lookup,
		logger:   logger.WithComponent("alias-directory"),
	}
}

// Add binds alias to target. It fails with ErrAliasExists when alias already
// names an index or another alias.
func (d *Directory) Add(alias string, target Target) error {
	if alias == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "alias name cannot be empty")
	}
	if target == nil {
		return fmt.Errorf("alias %q: %w", alias, apperrors.ErrUnknownIndex)
	}
	if _, ok := d.lookup(alias); ok {
		return fmt.Errorf("alias %q names an index: %w", alias, apperrors.ErrAliasExists)
	}
	if _, ok := d.bindings[alias]; ok {
		return fmt.Errorf("alias %q: %w", alias, apperrors.ErrAliasExists)
	}
	if d.beforeAdd != nil {
		if err := d.beforeAdd(alias, target); err != nil {
			return err
		}
	}
	d.bindings[alias] = target
	target.AddAlias(alias)
	return nil
}

// AddByName binds alias to the index called targetName. Aliases are not
// accepted as targets.
func (d *Directory) AddByName(alias, targetName string) error {
	target, ok := d.lookup(targetName)
	if !ok {
		return fmt.Errorf("unknown index name %q (or name is an alias itself): %w", targetName, apperrors.ErrUnknownIndex)
	}
	return d.Add(alias, target)
}

// Del removes alias. When expected is non-nil the alias must be bound to it.
func (d *Directory) Del(alias string, expected Target) error {
	cur, ok := d.bindings[alias]
	if !ok {
		return fmt.Errorf("alias %q: %w", alias, apperrors.ErrAliasNotFound)
	}
	if expected != nil && cur != expected {
		return fmt.Errorf("alias %q is bound to %q, not %q: %w", alias, cur.Name(), expected.Name(), apperrors.ErrAliasNotFound)
	}
	delete(d.bindings, alias)
	cur.RemoveAlias(alias)
	return nil
}

// Update rebinds alias to the index called targetName and returns the prior
// target, nil when alias was unbound. When the new binding cannot be made
// the prior one is restored and the original error returned. If the restore
// itself fails the directory has lost a binding a client relies on; that is
// reported as *errors.InvariantViolation and must be treated as fatal.
func (d *Directory) Update(alias, targetName string) (Target, error) {
	prior, hadPrior := d.bindings[alias]
	if hadPrior {
		if err := d.Del(alias, prior); err != nil {
			return nil, err
		}
	}
	err := d.AddByName(alias, targetName)
	if err == nil {
		return prior, nil
	}
	if !hadPrior {
		return nil, err
	}
	if rerr := d.Add(alias, prior); rerr != nil {
		return prior, &apperrors.InvariantViolation{
			Component: "alias directory",
			Detail:    fmt.Sprintf("restoring %q -> %q after failed update (%v)", alias, prior.Name(), err),
			Cause:     rerr,
		}
	}
	d.logger.Debug("alias update rolled back",
		"alias", alias,
		"target", prior.Name(),
		"error", err,
	)
	return prior, err
}

// Get returns the target bound to alias.
func (d *Directory) Get(alias string) (Target, bool) {
	t, ok := d.bindings[alias]
	return t, ok
}

// Resolve finds name among index names first and among aliases second.
func (d *Directory) Resolve(name string) (Target, bool) {
	if t, ok := d.lookup(name); ok {
		return t, true
	}
	return d.Get(name)
}

// DropTarget removes every alias bound to target and returns them sorted.
// It is called when target is dropped from the registry.
func (d *Directory) DropTarget(target Target) []string {
	var removed []string
	for a, t := range d.bindings {
		if t == target {
			removed = append(removed, a)
		}
	}
	sort.Strings(removed)
	for _, a := range removed {
		delete(d.bindings, a)
		target.RemoveAlias(a)
	}
	return removed
}

// Len returns the number of aliases.
func (d *Directory) Len() int {
	return len(d.bindings)
}

// Bindings returns alias -> index name for every alias.
func (d *Directory) Bindings() map[string]string {
	out := make(map[string]string, len(d.bindings))
	for a, t := range d.bindings {
		out[a] = t.Name()
	}
	return out
}
