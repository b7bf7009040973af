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
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
)

func newReplicaCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Run a read-only replica fed from Kafka",
		Long: `Run a replica: restore the latest snapshot, then apply the primary's
replication topic in order. The HTTP API serves reads only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			ctx := cmd.Context()
			slog.Info("starting coordinator", "role", "replica", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.Replication)

			n, err := newNode(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer n.Close()

			applier := replication.NewApplier(n.engine, n.metrics)
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Replication, applier.HandleMessage())

			if cfg.Metrics.Enabled {
				shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
				defer shutdown(context.Background())
			}

			handler := api.NewHandler(n.engine, nil, true)
			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      api.NewRouter(handler, n.checker, n.metrics, cfg.Server.WriteTimeout),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			n.engine.Start(gctx)
			g.Go(func() error {
				defer consumer.Close()
				return consumer.Start(gctx)
			})
			if n.persister != nil {
				g.Go(func() error { return n.persister.Run(gctx) })
			}
			if n.watcher != nil {
				g.Go(func() error { return n.watcher.Start(gctx) })
			}
			g.Go(func() error { return serveHTTP(gctx, srv, cfg.Server.ShutdownTimeout) })

			err = g.Wait()
			n.engine.GC().Wait()
			slog.Info("replica stopped")
			return err
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	return cmd
}
