package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/redis"
)

// node is the engine plus everything it runs on, shared by serve and replica.
type node struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	engine    *indexer.Engine
	persister *indexer.Persister
	watcher   *docstore.Watcher
	checker   *health.Checker
	closers   []func() error
}

// newNode locks the data directory, connects the document and snapshot
// stores and restores the latest snapshot. watch controls whether keyspace
// notifications drive rule-governed indexes.
func newNode(ctx context.Context, cfg *config.Config, watch bool) (*node, error) {
	n := &node{
		cfg:     cfg,
		metrics: metrics.New(prometheus.DefaultRegisterer),
		checker: health.NewChecker(),
	}
	ok := false
	defer func() {
		if !ok {
			n.Close()
		}
	}()

	if err := n.lockDataDir(); err != nil {
		return nil, err
	}

	var store docstore.Store
	var memStore *docstore.MemoryStore
	var redisClient *redis.Client
	var redisStore *docstore.RedisStore
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		n.closers = append(n.closers, client.Close)
		redisStore, err = docstore.NewRedisStore(client, cfg.Redis, n.metrics)
		if err != nil {
			return nil, err
		}
		redisClient = client
		store = redisStore
		n.checker.Register("redis", health.PingCheck(client.Ping, true))
	} else {
		memStore = docstore.NewMemoryStore()
		store = memStore
		slog.Warn("redis disabled, document objects are kept in memory")
	}

	n.engine = indexer.NewEngine(indexer.Options{
		Store:   store,
		Metrics: n.metrics,
		GC:      cfg.Engine.GC,
		OnFatal: func(err error) {
			slog.Error("fatal invariant violation, exiting", "error", err)
			os.Exit(2)
		},
	})
	switch {
	case !watch:
	case memStore != nil:
		memStore.SetListener(n.engine)
	case cfg.Redis.WatchKeyspace:
		n.watcher = docstore.NewWatcher(redisClient, redisStore, n.engine)
	}
	n.checker.Register("registry", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d indexes", len(n.engine.ListIndexes()))}
	})

	snapStore, err := n.openSnapshotStore(ctx)
	if err != nil {
		return nil, err
	}
	if snapStore != nil {
		n.persister = indexer.NewPersister(n.engine, snapStore, cfg.Snapshot, n.metrics)
		if err := n.persister.Load(ctx); err != nil {
			return nil, fmt.Errorf("restoring snapshot: %w", err)
		}
	}
	ok = true
	return n, nil
}

// lockDataDir keeps a second process from sharing the snapshot directory.
func (n *node) lockDataDir() error {
	if err := os.MkdirAll(n.cfg.Engine.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	lock := flock.New(filepath.Join(n.cfg.Engine.DataDir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is in use by another process", n.cfg.Engine.DataDir)
	}
	n.closers = append(n.closers, lock.Unlock)
	return nil
}

func (n *node) openSnapshotStore(ctx context.Context) (snapshot.Store, error) {
	switch n.cfg.Snapshot.Backend {
	case "file":
		return snapshot.NewFileStore(n.cfg.Engine.DataDir), nil
	case "postgres":
		client, err := postgres.New(ctx, n.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, client.Close)
		n.checker.Register("postgres", health.PingCheck(client.Ping, false))
		store := snapshot.NewPostgresStore(client, "default")
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		slog.Warn("snapshots disabled, registry state is lost on restart")
		return nil, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
	n.closers = nil
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}
