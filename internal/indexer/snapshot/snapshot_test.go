package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/internal/indexer/rules"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/postgres"
)

func populated(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	places, err := index.New("places", []index.Field{
		{Name: "name", Type: index.FieldText},
		{Name: "location", Type: index.FieldGeo},
	}, 0)
	require.NoError(t, err)
	_, _, err = places.Put(index.Document{Key: "paris", Score: 1, Payload: []byte("fr"), Fields: map[string]string{"location": "2.3522,48.8566"}}, false)
	require.NoError(t, err)
	_, _, err = places.Put(index.Document{Key: "gone", Score: 1}, false)
	require.NoError(t, err)
	places.Docs().DeleteByKey("gone")
	places.DecrementDocuments()
	_, err = places.EnsureSynonyms().AddGroup([]string{"city", "town"})
	require.NoError(t, err)
	require.NoError(t, reg.Create(places))

	users, err := index.New("users", nil, index.FlagWithRules)
	require.NoError(t, err)
	require.NoError(t, users.Rules().Add(rules.Rule{Name: "u", Type: rules.MatchPrefix, Expr: "user:", Score: 2}))
	require.NoError(t, reg.Create(users))

	require.NoError(t, reg.Aliases().AddByName("where", "places"))
	return reg
}

func TestEncodeDecodeApply(t *testing.T) {
	snap := Capture(populated(t))
	data, err := Encode(snap, 3)
	require.NoError(t, err)

	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, MagicBytes, h.Magic)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, snap.CreatedAt.Equal(decoded.CreatedAt))

	reg := registry.New()
	require.NoError(t, Apply(reg, decoded))

	places, ok := reg.Resolve("where")
	require.True(t, ok)
	assert.Equal(t, "places", places.Name())
	assert.Equal(t, uint64(1), places.NumDocuments())
	assert.Equal(t, uint64(2), places.Docs().MaxID())
	assert.Zero(t, places.Docs().Retired(), "retired ids are not carried over")

	rec, ok := places.Docs().GetByKey("paris")
	require.True(t, ok)
	assert.Equal(t, []byte("fr"), rec.Payload)
	g, _ := places.Geo("location")
	p, ok := g.Point(rec.ID)
	require.True(t, ok)
	assert.InDelta(t, 48.8566, p.Lat, 1e-9)

	assert.Equal(t, []uint32{0}, places.Synonyms().Lookup("town"))
	assert.Equal(t, []string{"where"}, places.Aliases())

	users, ok := reg.Lookup("users")
	require.True(t, ok)
	assert.True(t, users.RuleGoverned())
	r, ok := users.Rules().Match("user:1", nil)
	require.True(t, ok)
	assert.Equal(t, 2.0, r.Score)
	assert.Nil(t, users.Synonyms())
}

func TestApplyRequiresEmptyRegistry(t *testing.T) {
	reg := populated(t)
	assert.Error(t, Apply(reg, Capture(reg)))
}

func TestDecodeDetectsCorruption(t *testing.T) {
	data, err := Encode(Capture(populated(t)), 1)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[HeaderSize+2] ^= 0xff
	_, err = Decode(flipped)
	assert.True(t, errors.Is(err, ErrCorrupt))

	badMagic := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(badMagic[0:4], 0xdeadbeef)
	_, err = Decode(badMagic)
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Decode(data[:len(data)-1])
	assert.True(t, errors.Is(err, ErrCorrupt))

	for _, size := range []uint64{math.MaxUint64, math.MaxUint64 - uint64(HeaderSize+FooterSize) + 1, 1 << 63} {
		huge := append([]byte(nil), data...)
		binary.LittleEndian.PutUint64(huge[16:24], size)
		assert.NotPanics(t, func() {
			_, err = Decode(huge)
		})
		assert.True(t, errors.Is(err, ErrCorrupt), "body size %d", size)
	}

	_, err = Decode([]byte("short"))
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	require.NoError(t, store.Save(ctx, []byte("first")))
	require.NoError(t, store.Save(ctx, []byte("second")))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "no temp file is left behind")
}

func TestPostgresStore(t *testing.T) {
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	client, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "fts_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "fts"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	store := NewPostgresStore(client, "test-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	require.NoError(t, store.EnsureSchema(ctx))
	t.Cleanup(func() {
		client.DB.ExecContext(context.Background(), `DELETE FROM index_snapshots WHERE name = $1`, store.name)
	})

	_, err = store.Load(ctx)
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	data, err := Encode(Capture(populated(t)), 3)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, data))
	require.NoError(t, store.Save(ctx, data))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	snap, err := Decode(got)
	require.NoError(t, err)
	assert.Len(t, snap.Indexes, 2)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
