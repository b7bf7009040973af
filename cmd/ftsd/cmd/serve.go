package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/api"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/replication"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a primary coordinator",
		Long: `Run a primary: serve the HTTP command API, persist snapshots and,
when replication is enabled, publish every mutation to Kafka.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	slog.Info("starting coordinator", "role", "primary", "port", cfg.Server.Port, "snapshot_backend", cfg.Snapshot.Backend)

	n, err := newNode(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer n.Close()

	var publisher replication.Publisher = replication.Nop{}
	if cfg.Replication.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Replication)
		defer producer.Close()
		stream := replication.NewStream(replication.NewKafkaSink(producer), cfg.Replication.BufferSize, n.metrics)
		stream.Start(ctx)
		defer stream.Close()
		publisher = stream
		slog.Info("replication enabled", "topic", cfg.Kafka.Topics.Replication, "origin", stream.Origin())
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	handler := api.NewHandler(n.engine, publisher, false)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, n.checker, n.metrics, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	n.engine.Start(gctx)
	if n.persister != nil {
		g.Go(func() error { return n.persister.Run(gctx) })
	}
	if n.watcher != nil {
		g.Go(func() error { return n.watcher.Start(gctx) })
	}
	g.Go(func() error { return serveHTTP(gctx, srv, cfg.Server.ShutdownTimeout) })

	err = g.Wait()
	n.engine.GC().Wait()
	slog.Info("coordinator stopped")
	return err
}
