// Package integration contains tests that verify the interaction between
// coordinator components. These tests run a primary and a replica behind
// httptest servers, connected by an in-process replication sink, and mock
// the external dependencies (Kafka, Redis). PostgreSQL-backed tests skip
// when no database is reachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/api"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/replication"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/postgres"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// applierSink hands published batches straight to a replica's applier, in
// place of a Kafka topic.
type applierSink struct {
	mu      sync.Mutex
	applier *replication.Applier
	applied int
}

func (s *applierSink) Publish(ctx context.Context, batch []replication.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range batch {
		if err := s.applier.ApplyEnvelope(ctx, env); err != nil {
			return err
		}
		s.applied++
	}
	return nil
}

func (s *applierSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

type cluster struct {
	primary *httptest.Server
	replica *httptest.Server
	stream  *replication.Stream
	sink    *applierSink
	engine  *indexer.Engine
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	m := metrics.NewNop()

	replicaEngine := indexer.NewEngine(indexer.Options{Store: docstore.NewMemoryStore(), Metrics: m})
	sink := &applierSink{applier: replication.NewApplier(replicaEngine, m)}
	stream := replication.NewStream(sink, 256, m)
	stream.Start(t.Context())
	t.Cleanup(stream.Close)

	primaryEngine := indexer.NewEngine(indexer.Options{Store: docstore.NewMemoryStore(), Metrics: m})
	checker := health.NewChecker()

	primary := httptest.NewServer(api.NewRouter(api.NewHandler(primaryEngine, stream, false), checker, m, 5*time.Second))
	t.Cleanup(primary.Close)
	replica := httptest.NewServer(api.NewRouter(api.NewHandler(replicaEngine, nil, true), checker, m, 5*time.Second))
	t.Cleanup(replica.Close)

	return &cluster{primary: primary, replica: replica, stream: stream, sink: sink, engine: primaryEngine}
}

func call(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: request failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decoding response %q: %v", method, url, raw, err)
		}
	}
	return resp.StatusCode, out
}

func waitApplied(t *testing.T, s *applierSink, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("replica applied %d records, want %d", s.count(), n)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestReplicaFollowsPrimary drives the primary over HTTP and checks the
// replica converges to the same state.
func TestReplicaFollowsPrimary(t *testing.T) {
	c := newCluster(t)
	p := c.primary.URL + "/api/v1"

	steps := []struct {
		method string
		path   string
		body   any
		want   int
	}{
		{"POST", "/indexes", map[string]any{"name": "places_v1", "fields": []map[string]string{{"name": "loc", "type": "GEO"}}}, http.StatusCreated},
		{"POST", "/indexes", map[string]any{"name": "places_v2", "fields": []map[string]string{{"name": "loc", "type": "GEO"}}}, http.StatusCreated},
		{"POST", "/indexes/places_v1/documents", map[string]any{"key": "cafe", "fields": map[string]string{"loc": "2.35,48.85"}}, http.StatusCreated},
		{"POST", "/indexes/places_v1/documents", map[string]any{"key": "bar", "fields": map[string]string{"loc": "2.29,48.85"}}, http.StatusCreated},
		{"POST", "/aliases", map[string]string{"alias": "places", "index": "places_v1"}, http.StatusCreated},
		{"POST", "/indexes/places/synonyms", map[string]any{"terms": []string{"cafe", "coffee"}}, http.StatusCreated},
		{"DELETE", "/indexes/places/documents/bar", nil, http.StatusOK},
		{"PUT", "/aliases/places", map[string]string{"index": "places_v2"}, http.StatusOK},
	}
	for _, s := range steps {
		status, body := call(t, s.method, p+s.path, s.body)
		if status != s.want {
			t.Fatalf("%s %s: expected %d, got %d: %v", s.method, s.path, s.want, status, body)
		}
	}
	waitApplied(t, c.sink, len(steps))

	r := c.replica.URL + "/api/v1"
	status, body := call(t, "GET", r+"/resolve/places", nil)
	if status != http.StatusOK || body["index"] != "places_v2" {
		t.Errorf("replica resolve: got %d %v", status, body)
	}
	status, body = call(t, "GET", r+"/indexes/places_v1/geo/loc?point=2.35,48.85&radius=50km", nil)
	if status != http.StatusOK {
		t.Fatalf("replica geo: got %d %v", status, body)
	}
	keys, _ := body["keys"].([]any)
	if len(keys) != 1 || keys[0] != "cafe" {
		t.Errorf("replica geo keys: got %v, want [cafe]", keys)
	}
	status, body = call(t, "GET", r+"/indexes/places_v1/synonyms", nil)
	if status != http.StatusOK {
		t.Fatalf("replica synonyms: got %d", status)
	}
	syn, _ := body["synonyms"].(map[string]any)
	if len(syn) != 2 {
		t.Errorf("replica synonyms: got %v", syn)
	}

	status, _ = call(t, "POST", r+"/indexes", map[string]any{"name": "rogue"})
	if status != http.StatusForbidden {
		t.Errorf("replica write: expected 403, got %d", status)
	}
}

// TestFailedMutationsAreNotReplicated checks that rejected commands never
// reach the replication stream.
func TestFailedMutationsAreNotReplicated(t *testing.T) {
	c := newCluster(t)
	p := c.primary.URL + "/api/v1"

	call(t, "POST", p+"/indexes", map[string]any{"name": "ruled", "with_rules": true})
	if status, _ := call(t, "POST", p+"/indexes/ruled/documents", map[string]any{"key": "k"}); status != http.StatusForbidden {
		t.Errorf("add on rule-governed index: expected 403, got %d", status)
	}
	if status, _ := call(t, "DELETE", p+"/indexes/missing/documents/k", nil); status != http.StatusNotFound {
		t.Errorf("delete on unknown index: expected 404, got %d", status)
	}
	if status, _ := call(t, "PUT", p+"/aliases/nope", map[string]string{"index": "missing"}); status != http.StatusNotFound {
		t.Errorf("alias update to unknown index: expected 404, got %d", status)
	}

	waitApplied(t, c.sink, 1)
	time.Sleep(50 * time.Millisecond)
	if n := c.sink.count(); n != 1 {
		t.Errorf("expected only the create to replicate, got %d records", n)
	}
}

// TestSnapshotSurvivesRestart saves the primary to a file store and loads
// it into a fresh engine.
func TestSnapshotSurvivesRestart(t *testing.T) {
	c := newCluster(t)
	p := c.primary.URL + "/api/v1"
	call(t, "POST", p+"/indexes", map[string]any{"name": "idx"})
	call(t, "POST", p+"/indexes/idx/documents", map[string]any{"key": "a"})
	call(t, "POST", p+"/aliases", map[string]string{"alias": "live", "index": "idx"})

	store := snapshot.NewFileStore(t.TempDir())
	cfg := config.SnapshotConfig{Backend: "file", Level: 3}
	if err := indexer.NewPersister(c.engine, store, cfg, nil).Save(t.Context()); err != nil {
		t.Fatalf("saving snapshot: %v", err)
	}

	restored := indexer.NewEngine(indexer.Options{})
	if err := indexer.NewPersister(restored, store, cfg, nil).Load(t.Context()); err != nil {
		t.Fatalf("loading snapshot: %v", err)
	}
	if name, ok := restored.Resolve("live"); !ok || name != "idx" {
		t.Errorf("restored alias: got %q %v", name, ok)
	}
	info, err := restored.Info(t.Context(), "idx")
	if err != nil {
		t.Fatalf("restored info: %v", err)
	}
	if info.Stats.NumDocuments != 1 {
		t.Errorf("restored documents: got %d, want 1", info.Stats.NumDocuments)
	}
}

// TestPostgresSnapshotStore runs the same round trip against PostgreSQL.
func TestPostgresSnapshotStore(t *testing.T) {
	db, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "fts_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "fts"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	name := "integration-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	store := snapshot.NewPostgresStore(db, name)
	if err := store.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	t.Cleanup(func() {
		db.DB.ExecContext(context.Background(), `DELETE FROM index_snapshots WHERE name = $1`, name)
	})

	src := indexer.NewEngine(indexer.Options{})
	if _, err := src.CreateIndex(t.Context(), "idx", nil, false); err != nil {
		t.Fatalf("creating index: %v", err)
	}
	cfg := config.SnapshotConfig{Backend: "postgres", Level: 1}
	if err := indexer.NewPersister(src, store, cfg, nil).Save(t.Context()); err != nil {
		t.Fatalf("saving snapshot: %v", err)
	}
	dst := indexer.NewEngine(indexer.Options{})
	if err := indexer.NewPersister(dst, store, cfg, nil).Load(t.Context()); err != nil {
		t.Fatalf("loading snapshot: %v", err)
	}
	if got := dst.ListIndexes(); len(got) != 1 || got[0] != "idx" {
		t.Errorf("restored indexes: got %v", got)
	}
}
