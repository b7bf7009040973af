package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/resilience"
)

// saveTimeout bounds a single snapshot write.
const saveTimeout = 30 * time.Second

// Persister saves engine snapshots to a store on an interval and once more
// on shutdown.
type Persister struct {
	engine  *Engine
	store   snapshot.Store
	cfg     config.SnapshotConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPersister(engine *Engine, store snapshot.Store, cfg config.SnapshotConfig, m *metrics.Metrics) *Persister {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Persister{
		engine:  engine,
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("snapshot").With("store", store.Name()),
	}
}

// Save captures and writes one snapshot.
func (p *Persister) Save(ctx context.Context) error {
	snap := p.engine.Capture()
	data, err := snapshot.Encode(snap, p.cfg.Level)
	if err != nil {
		p.metrics.SnapshotsTotal.WithLabelValues("save", "error").Inc()
		return err
	}
	err = resilience.WithTimeout(ctx, saveTimeout, "snapshot save", func(ctx context.Context) error {
		return p.store.Save(ctx, data)
	})
	if err != nil {
		p.metrics.SnapshotsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("saving snapshot: %w", err)
	}
	p.metrics.SnapshotsTotal.WithLabelValues("save", "ok").Inc()
	p.logger.Info("snapshot saved", "indexes", len(snap.Indexes), "bytes", len(data))
	return nil
}

// Load restores the latest snapshot into the engine. A store with nothing
// saved is not an error.
func (p *Persister) Load(ctx context.Context) error {
	data, err := p.store.Load(ctx)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		p.logger.Info("no snapshot to restore")
		return nil
	}
	if err != nil {
		p.metrics.SnapshotsTotal.WithLabelValues("restore", "error").Inc()
		return err
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		p.metrics.SnapshotsTotal.WithLabelValues("restore", "error").Inc()
		return err
	}
	if err := p.engine.Restore(snap); err != nil {
		p.metrics.SnapshotsTotal.WithLabelValues("restore", "error").Inc()
		return err
	}
	p.metrics.SnapshotsTotal.WithLabelValues("restore", "ok").Inc()
	return nil
}

// Run saves on every tick until ctx is cancelled, then saves a final time.
func (p *Persister) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("snapshot loop stopping, performing final save")
			if err := p.Save(context.Background()); err != nil {
				p.logger.Error("final snapshot failed", "error", err)
				return err
			}
			return nil
		case <-ticker.C:
			if err := p.Save(ctx); err != nil {
				p.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
