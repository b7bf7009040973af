package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/postgres"
)

// ErrNoSnapshot is returned by Load when nothing was saved yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Store persists encoded snapshots. Save replaces the previous snapshot
// atomically: a reader sees the old or the new one, never a mix.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Name() string
}

// FileName is the snapshot file inside the data directory.
const FileName = "registry.ftss"

// FileStore keeps the snapshot in a single file, replaced by rename.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Path() string { return filepath.Join(s.dir, FileName) }

func (s *FileStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	finalPath := s.Path()
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	return data, nil
}

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS index_snapshots (
	name       TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the snapshot as one row of index_snapshots, so several
// deployments can share a database under different names.
type PostgresStore struct {
	client *postgres.Client
	name   string
}

func NewPostgresStore(client *postgres.Client, name string) *PostgresStore {
	if name == "" {
		name = "default"
	}
	return &PostgresStore{client: client, name: name}
}

func (s *PostgresStore) Name() string { return "postgres" }

// EnsureSchema creates the snapshot table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := s.client.Migrate(ctx, createSnapshotTable); err != nil {
		return fmt.Errorf("creating index_snapshots table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, data []byte) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO index_snapshots (name, data, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			s.name, data,
		)
		if err != nil {
			return fmt.Errorf("upserting snapshot %q: %w", s.name, postgres.Classify(err))
		}
		return nil
	})
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT data FROM index_snapshots WHERE name = $1`, s.name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", s.name, postgres.Classify(err))
	}
	return data, nil
}
