// Package replication ships mutation effects from a primary to its
// replicas. The primary hands every effect record to a Stream, which
// publishes ordered envelopes to Kafka in the background; a replica's
// Applier consumes them and replays each command against its own engine.
package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/effect"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/resilience"
)

// maxBatch bounds the envelopes sent in one publish call.
const maxBatch = 100

// Envelope is the wire form of a record. Seq increases by one per record
// within one Origin, so a replica can drop redelivered envelopes.
type Envelope struct {
	Origin string         `json:"origin"`
	Seq    uint64         `json:"seq"`
	Time   time.Time      `json:"time"`
	Record *effect.Record `json:"record"`
}

// Sink delivers envelopes in order.
type Sink interface {
	Publish(ctx context.Context, batch []Envelope) error
}

// Publisher accepts effect records. Publish must not block.
type Publisher interface {
	Publish(rec *effect.Record)
}

// Nop discards records, used when replication is disabled.
type Nop struct{}

func (Nop) Publish(*effect.Record) {}

// Stream buffers records and publishes them from a single goroutine, which
// keeps envelopes in the order records were handed in.
type Stream struct {
	sink      Sink
	origin    string
	mu        sync.Mutex
	seq       uint64
	closed    bool
	ch        chan Envelope
	metrics   *metrics.Metrics
	logger    *slog.Logger
	retry     resilience.RetryConfig
	done      chan struct{}
	closeOnce sync.Once
}

func NewStream(sink Sink, bufferSize int, m *metrics.Metrics) *Stream {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Stream{
		sink:    sink,
		origin:  newOrigin(),
		ch:      make(chan Envelope, bufferSize),
		metrics: m,
		logger:  logger.WithComponent("replication-stream"),
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		done: make(chan struct{}),
	}
}

func newOrigin() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b[:])
}

// Origin identifies this stream's sequence space.
func (s *Stream) Origin() string { return s.origin }

// Publish enqueues rec. A full buffer drops it: a replica that misses a
// record must be re-seeded from a snapshot.
func (s *Stream) Publish(rec *effect.Record) {
	if rec == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.metrics.ReplicationTotal.WithLabelValues("dropped").Inc()
		return
	}
	env := Envelope{Origin: s.origin, Seq: s.seq + 1, Time: time.Now().UTC(), Record: rec}
	select {
	case s.ch <- env:
		s.seq++
	default:
		s.metrics.ReplicationTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("replication record dropped (buffer full)", "command", rec.Command, "index", rec.Index())
	}
}

// Start runs the publish loop until ctx is cancelled or Close is called.
func (s *Stream) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case env, ok := <-s.ch:
				if !ok {
					return
				}
				s.send(ctx, s.collect(env))
			case <-ctx.Done():
				s.drainRemaining()
				return
			}
		}
	}()
	s.logger.Info("replication stream started", "origin", s.origin, "buffer_size", cap(s.ch))
}

// collect gathers whatever is already buffered behind first.
func (s *Stream) collect(first Envelope) []Envelope {
	batch := []Envelope{first}
	for len(batch) < maxBatch {
		select {
		case env, ok := <-s.ch:
			if !ok {
				return batch
			}
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}

func (s *Stream) send(ctx context.Context, batch []Envelope) {
	err := resilience.Retry(ctx, "replication publish", s.retry, func() error {
		return s.sink.Publish(ctx, batch)
	})
	if err != nil {
		s.metrics.ReplicationTotal.WithLabelValues("failed").Add(float64(len(batch)))
		s.logger.Error("failed to publish replication batch",
			"count", len(batch),
			"first_seq", batch[0].Seq,
			"error", err,
		)
		return
	}
	s.metrics.ReplicationTotal.WithLabelValues("published").Add(float64(len(batch)))
}

// Close stops accepting records, flushes the buffer and waits for the loop.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	<-s.done
}

func (s *Stream) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case env, ok := <-s.ch:
			if !ok {
				return
			}
			s.send(ctx, s.collect(env))
		default:
			return
		}
	}
}
