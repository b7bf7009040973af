// Package gc runs the background reclamation of retired document ids and
// empty spatial cells. Deletions hand it fire-and-forget hints that shorten
// its scan interval; idle scans lengthen it again.
package gc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
)

// scanBatch bounds the ids reclaimed per index per scan.
const scanBatch = 1024

// Scanner performs one reclamation pass and reports how many items it
// reclaimed. It takes whatever locks it needs itself.
type Scanner interface {
	Reclaim(limit int) int
}

type Collector struct {
	scanner  Scanner
	cfg      config.GCConfig
	hints    chan struct{}
	pending  atomic.Int64
	interval atomic.Int64
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	done     chan struct{}
}

func New(cfg config.GCConfig, scanner Scanner, m *metrics.Metrics) *Collector {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.ScansPerSecond <= 0 {
		cfg.ScansPerSecond = 10
	}
	if cfg.HintThreshold <= 0 {
		cfg.HintThreshold = 100
	}
	if m == nil {
		m = metrics.NewNop()
	}
	c := &Collector{
		scanner: scanner,
		cfg:     cfg,
		hints:   make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(cfg.ScansPerSecond), 1),
		metrics: m,
		logger:  logger.WithComponent("gc"),
		done:    make(chan struct{}),
	}
	c.setInterval(cfg.MaxInterval)
	return c
}

// NotifyDeletion records one deletion. It never blocks: hints arriving while
// one is already queued are coalesced into the pending counter.
func (c *Collector) NotifyDeletion() {
	c.pending.Add(1)
	select {
	case c.hints <- struct{}{}:
		c.metrics.GCHintsTotal.WithLabelValues("queued").Inc()
	default:
		c.metrics.GCHintsTotal.WithLabelValues("coalesced").Inc()
	}
}

// Pending returns the deletions seen since the last scan.
func (c *Collector) Pending() int64 {
	return c.pending.Load()
}

// Interval returns the current scan interval.
func (c *Collector) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

func (c *Collector) setInterval(d time.Duration) {
	c.interval.Store(int64(d))
	c.metrics.GCInterval.Set(d.Seconds())
}

// Start runs the scan loop until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		timer := time.NewTimer(c.Interval())
		defer timer.Stop()
		next := time.Now().Add(c.Interval())
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("gc stopping", "pending", c.Pending())
				return
			case <-c.hints:
				if c.Pending() < c.cfg.HintThreshold {
					// Pull the pending scan forward, never push it back.
					c.tighten()
					if sooner := time.Now().Add(c.Interval()); sooner.Before(next) {
						next = sooner
						timer.Reset(c.Interval())
					}
					continue
				}
				c.scan(ctx)
			case <-timer.C:
				c.scan(ctx)
			}
			next = time.Now().Add(c.Interval())
			timer.Reset(c.Interval())
		}
	}()
	c.logger.Info("gc started",
		"min_interval", c.cfg.MinInterval,
		"max_interval", c.cfg.MaxInterval,
		"hint_threshold", c.cfg.HintThreshold,
	)
}

// Wait blocks until the loop started by Start has exited.
func (c *Collector) Wait() {
	<-c.done
}

// RunOnce performs a single paced scan and adapts the interval.
func (c *Collector) RunOnce(ctx context.Context) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	c.pending.Store(0)
	n := c.scanner.Reclaim(scanBatch)
	c.metrics.GCReclaimedTotal.Add(float64(n))
	if n > 0 {
		c.tighten()
	} else {
		c.relax()
	}
	return n, nil
}

func (c *Collector) scan(ctx context.Context) {
	n, err := c.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("gc scan skipped", "error", err)
		}
		return
	}
	if n > 0 {
		c.logger.Debug("gc scan reclaimed", "count", n, "next_interval", c.Interval())
	}
}

func (c *Collector) tighten() {
	d := c.Interval() / 2
	if d < c.cfg.MinInterval {
		d = c.cfg.MinInterval
	}
	c.setInterval(d)
}

func (c *Collector) relax() {
	d := c.Interval() * 2
	if d > c.cfg.MaxInterval {
		d = c.cfg.MaxInterval
	}
	c.setInterval(d)
}
