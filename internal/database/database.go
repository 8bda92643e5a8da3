// Package database stores usage analytics for completed transcriptions in
// PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrSchemaMissing is returned by HealthCheck when the usage table is absent.
var ErrSchemaMissing = errors.New("transcription_events table missing")

const usageTable = "transcription_events"

// Options configures the usage database connection.
type Options struct {
	URL string
	// Writers is how many pipelines can complete at the same time. Each may
	// record one usage event concurrently.
	Writers int
	Log     zerolog.Logger
}

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// poolSize sizes the pool to the pipeline concurrency plus one connection
// reserved for health checks and summaries.
func poolSize(writers int) (maxConns, minConns int32) {
	if writers < 1 {
		writers = 1
	}
	maxConns = int32(writers) + 1
	minConns = 1
	if maxConns > 2 {
		minConns = 2
	}
	return maxConns, minConns
}

func Connect(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns, cfg.MinConns = poolSize(opts.Writers)
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", maskDSN(opts.URL), err)
	}

	opts.Log.Info().
		Str("url", maskDSN(opts.URL)).
		Int32("max_conns", cfg.MaxConns).
		Int("writers", opts.Writers).
		Msg("usage database connected")

	return &DB{Pool: pool, log: opts.Log}, nil
}

// HealthCheck verifies the database answers and that the usage table is
// present, so a dropped table shows up as degraded rather than as failed
// inserts.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := db.tableExists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSchemaMissing
	}
	return nil
}

func (db *DB) tableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT to_regclass(current_schema() || '.' || $1) IS NOT NULL`, usageTable,
	).Scan(&exists)
	return exists, err
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing usage database")
	db.Pool.Close()
}
