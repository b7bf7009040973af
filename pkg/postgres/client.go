// Package postgres wraps a lib/pq connection pool used for snapshot
// storage: startup with retried pings, schema setup, transactions and
// classification of connection failures.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/resilience"
)

const (
	defaultMaxOpenConns = 4
	defaultMaxIdleConns = 2
	pingTimeout         = 5 * time.Second
)

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

// New opens the pool and waits for the server, retrying the first ping a
// few times so a node can start alongside its database.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	// Snapshot writes are serialized by the persister; a small pool is enough.
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := &Client{DB: db, cfg: cfg}
	err = resilience.Retry(ctx, "postgres ping", resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}, func() error {
		err := c.Ping(ctx)
		if err != nil && !IsUnavailable(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return c, nil
}

// Ping checks the server within pingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return Classify(c.DB.PingContext(ctx))
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Migrate runs each statement in one transaction.
func (c *Client) Migrate(ctx context.Context, stmts ...string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return Classify(err)
			}
		}
		return nil
	})
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", Classify(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", Classify(err))
	}
	return nil
}

// Classify marks connection-level failures with apperrors.ErrUnavailable so
// callers can tell an unreachable database from a bad statement.
func Classify(err error) error {
	if err == nil || !isConnectionError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
}

// IsUnavailable reports whether err is a connection-level failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, apperrors.ErrUnavailable) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 is connection exceptions, 57P0x is server shutdown.
		code := string(pqErr.Code)
		return pqErr.Code.Class() == "08" || strings.HasPrefix(code, "57P0")
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
