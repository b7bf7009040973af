// Package deletion implements the document deletion protocol. One request
// walks Validating, PolicyCheck, Resolving, PurgingSecondary,
// RemovingPrimary and Finalizing, and ends in Done, NotFound or Rejected.
//
// The coordinator runs the whole protocol inside the caller's critical
// section: the caller holds the registry writer lock for the duration of
// Delete or Evict.
package deletion

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
)

type State int

const (
	Validating State = iota
	PolicyCheck
	Resolving
	PurgingSecondary
	RemovingPrimary
	Finalizing
	Done
	NotFound
	Rejected
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case PolicyCheck:
		return "policy_check"
	case Resolving:
		return "resolving"
	case PurgingSecondary:
		return "purging_secondary"
	case RemovingPrimary:
		return "removing_primary"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case NotFound:
		return "not_found"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DocTable is the authoritative key <-> id table.
type DocTable interface {
	ResolveID(key string) (uint64, bool)
	DeleteByKey(key string) bool
}

// SpatialIndex is a per-field secondary structure. RemoveEntries must be
// safe to call for ids without entries.
type SpatialIndex interface {
	Field() string
	RemoveEntries(id uint64) int
}

// GCNotifier receives deletion hints. NotifyDeletion must never block.
type GCNotifier interface {
	NotifyDeletion()
}

// Target is the index a deletion runs against.
type Target interface {
	Name() string
	RuleGoverned() bool
	DocTable() DocTable
	SpatialStructures() []SpatialIndex
	DecrementDocuments()
}

// Resolver finds the target index by name or alias.
type Resolver func(name string) (Target, bool)

type Request struct {
	Index string
	Key   string
	// DeleteObject asks for removal of the stored document object too.
	DeleteObject bool
}

type Outcome struct {
	State State
	// Count is 1 when the document was removed, 0 otherwise.
	Count int
	Index string
	Key   string
	ID    uint64
	// DeleteObject is set when the caller must remove the stored object
	// once the lock is released.
	DeleteObject bool
	// Purged counts spatial entries removed.
	Purged int
	Effect *effect.Record
}

type Coordinator struct {
	resolve Resolver
	gc      GCNotifier
	logger  *slog.Logger

	// OnTransition, when set, observes every state entered.
	OnTransition func(req Request, s State)
}

func NewCoordinator(resolve Resolver, gc GCNotifier) *Coordinator {
	return &Coordinator{
		resolve: resolve,
		gc:      gc,
		logger:  logger.WithComponent("deletion"),
	}
}

// Delete runs the full protocol. A rule-governed index rejects every
// request, present key or not, before any structure is consulted.
func (c *Coordinator) Delete(req Request) (Outcome, error) {
	return c.run(req, true)
}

// Evict runs the protocol without the policy gate. It serves rule-driven
// membership changes, which are the only way documents leave a
// rule-governed index.
func (c *Coordinator) Evict(req Request) (Outcome, error) {
	return c.run(req, false)
}

func (c *Coordinator) run(req Request, enforcePolicy bool) (Outcome, error) {
	out := Outcome{Index: req.Index, Key: req.Key}

	c.enter(req, Validating)
	target, ok := c.resolve(req.Index)
	if !ok {
		c.enter(req, Rejected)
		out.State = Rejected
		return out, fmt.Errorf("index %q: %w", req.Index, apperrors.ErrUnknownIndex)
	}
	out.Index = target.Name()

	c.enter(req, PolicyCheck)
	if enforcePolicy && target.RuleGoverned() {
		c.enter(req, Rejected)
		out.State = Rejected
		return out, fmt.Errorf("index %q: %w", target.Name(), apperrors.ErrRulesGoverned)
	}

	c.enter(req, Resolving)
	docs := target.DocTable()
	id, ok := docs.ResolveID(req.Key)
	if !ok {
		c.enter(req, NotFound)
		out.State = NotFound
		return out, nil
	}
	out.ID = id

	c.enter(req, PurgingSecondary)
	for _, s := range target.SpatialStructures() {
		out.Purged += s.RemoveEntries(id)
	}

	c.enter(req, RemovingPrimary)
	if !docs.DeleteByKey(req.Key) {
		c.logger.Debug("document vanished during deletion",
			"index", target.Name(),
			"key", req.Key,
			"doc_id", id,
		)
		c.enter(req, NotFound)
		out.State = NotFound
		return out, nil
	}

	c.enter(req, Finalizing)
	target.DecrementDocuments()
	if c.gc != nil {
		c.gc.NotifyDeletion()
	}
	out.DeleteObject = req.DeleteObject
	if req.DeleteObject {
		out.Effect = effect.New(effect.CmdDel, target.Name(), req.Key, effect.FlagDeleteDocument)
	} else {
		out.Effect = effect.New(effect.CmdDel, target.Name(), req.Key)
	}

	c.enter(req, Done)
	out.State = Done
	out.Count = 1
	return out, nil
}

func (c *Coordinator) enter(req Request, s State) {
	if c.OnTransition != nil {
		c.OnTransition(req, s)
	}
}
