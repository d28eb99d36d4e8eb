package sqlplugin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 10 * time.Minute
)

// PoolOptions tunes the pool backing the bgpstream_dumps catalog. OpenPool
// fills in defaults for fields left at zero (10 max connections, 1h
// lifetime, 10m idle time) and raises a negative MinConns to 0.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// OpenPool opens and pings a connection pool tuned for the access pattern
// Plugin.NextBatch drives: a handful of long-lived connections each issuing
// a single bounded "rows past cursor" query, never holding a transaction
// open between calls. Every connection is tagged with an application_name
// so bgpstream-inspect's catalog reads are identifiable in pg_stat_activity
// alongside whatever else shares the DSN.
func OpenPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10
	}
	if opts.MinConns < 0 {
		opts.MinConns = 0
	}
	if opts.MaxConnLifetime <= 0 {
		opts.MaxConnLifetime = defaultMaxConnLifetime
	}
	if opts.MaxConnIdleTime <= 0 {
		opts.MaxConnIdleTime = defaultMaxConnIdleTime
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: parsing DSN: %w", err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.ConnConfig.RuntimeParams["application_name"] = "bgpstream-inspect"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sql: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sql: pinging database: %w", err)
	}

	return pool, nil
}
