// Package sqlplugin is a reference Data Interface plugin backed by a
// Postgres dump catalog table (bgpstream_dumps): a collector writes one
// row per archived dump, and this plugin cursors through new rows in
// (dump_time, id) order.
package sqlplugin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
)

// ID is this plugin's registered identifier.
const ID = "sql"

const defaultBatchSize = 500

// PollInterval is how often NextBatch re-queries the catalog in live mode
// when the prior query found nothing new.
const PollInterval = 2 * time.Second

func init() {
	diface.Register(ID, func() diface.Plugin { return New(nil) })
}

// Plugin cursors through bgpstream_dumps via (dump_time, id), the SQL
// analogue of plugins/file's filesystem scan cursor. Start applies the
// embedded catalog migrations (and any extra ones found in migrationsDir)
// before the pool is handed to NextBatch, so a fresh database is usable
// without a separate provisioning step.
type Plugin struct {
	logger *zap.Logger
	pool   *pgxpool.Pool

	dsn           string
	maxConns      int32
	minConns      int32
	maxConnLife   time.Duration
	maxConnIdle   time.Duration
	batchSize     int
	migrationsDir string

	cursorTime uint32
	cursorID   int64
}

// New returns a Plugin with no DSN configured; SetOption "dsn" must be
// called before Start. logger may be nil.
func New(logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{logger: logger, maxConns: 10, minConns: 2, batchSize: defaultBatchSize}
}

func (p *Plugin) Describe() diface.Info {
	return diface.Info{
		ID:   ID,
		Name: "sql",
		Options: []diface.Option{
			{Name: "dsn", Description: "Postgres connection string for the dump catalog"},
			{Name: "max_conns", Description: "maximum pool connections (default 10)"},
			{Name: "min_conns", Description: "minimum pool connections (default 2)"},
			{Name: "max_conn_lifetime", Description: "max connection lifetime, e.g. \"1h\" (default 1h)"},
			{Name: "max_conn_idle_time", Description: "max connection idle time, e.g. \"10m\" (default 10m)"},
			{Name: "batch_size", Description: "rows fetched per NextBatch call (default 500)"},
			{Name: "migrations_dir", Description: "optional directory of additional *.sql migrations to apply on Start"},
		},
	}
}

func (p *Plugin) SetOption(name, value string) error {
	switch name {
	case "dsn":
		p.dsn = value
		return nil
	case "max_conns":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("sql: invalid max_conns %q: %w", value, err)
		}
		p.maxConns = int32(n)
		return nil
	case "min_conns":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("sql: invalid min_conns %q: %w", value, err)
		}
		p.minConns = int32(n)
		return nil
	case "max_conn_lifetime":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("sql: invalid max_conn_lifetime %q: %w", value, err)
		}
		p.maxConnLife = d
		return nil
	case "max_conn_idle_time":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("sql: invalid max_conn_idle_time %q: %w", value, err)
		}
		p.maxConnIdle = d
		return nil
	case "batch_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("sql: invalid batch_size %q: %w", value, err)
		}
		p.batchSize = n
		return nil
	case "migrations_dir":
		p.migrationsDir = value
		return nil
	default:
		return fmt.Errorf("sql: unknown option %q", name)
	}
}

func (p *Plugin) Start(_ filter.View) error {
	if p.dsn == "" {
		return fmt.Errorf("sql: dsn option is required")
	}
	ctx := context.Background()
	pool, err := OpenPool(ctx, p.dsn, PoolOptions{
		MaxConns:        p.maxConns,
		MinConns:        p.minConns,
		MaxConnLifetime: p.maxConnLife,
		MaxConnIdleTime: p.maxConnIdle,
	})
	if err != nil {
		return err
	}
	if err := RunMigrations(ctx, pool, p.migrationsDir, p.logger); err != nil {
		pool.Close()
		return fmt.Errorf("sql: applying catalog schema: %w", err)
	}
	p.pool = pool
	return nil
}

func (p *Plugin) Stop() error {
	if p.pool == nil {
		return nil
	}
	p.pool.Close()
	p.pool = nil
	return nil
}

// NextBatch fetches up to batchSize rows past the cursor. Batch mode
// returns (0, nil) once a query finds nothing new; live mode blocks on a
// LISTEN/NOTIFY-free poll, re-querying until a row appears or ctx ends.
func (p *Plugin) NextBatch(ctx context.Context, sink inputqueue.Sink, live bool) (int, error) {
	for {
		rows, err := p.pool.Query(ctx, `
			SELECT id, project, collector, dump_type, dump_time, file_time, initial_time, duration_hint_seconds, uri
			FROM bgpstream_dumps
			WHERE (dump_time, id) > ($1, $2)
			ORDER BY dump_time, id
			LIMIT $3`,
			p.cursorTime, p.cursorID, p.batchSize)
		if err != nil {
			return -1, fmt.Errorf("sql: querying dump catalog: %w", err)
		}

		var found []dumpmeta.Metadata
		for rows.Next() {
			var (
				id                                                   int64
				project, collector, uri                              string
				dumpType, durationHintSeconds                        int
				dumpTime, fileTime, initialTime                       uint32
			)
			if err := rows.Scan(&id, &project, &collector, &dumpType, &dumpTime, &fileTime, &initialTime, &durationHintSeconds, &uri); err != nil {
				rows.Close()
				return -1, fmt.Errorf("sql: scanning dump row: %w", err)
			}
			found = append(found, dumpmeta.Metadata{
				Project:      project,
				Collector:    collector,
				DumpType:     dumpmeta.DumpType(dumpType),
				DumpTime:     dumpTime,
				FileTime:     fileTime,
				InitialTime:  initialTime,
				URI:          uri,
				DurationHint: time.Duration(durationHintSeconds) * time.Second,
			})
			p.cursorTime = dumpTime
			p.cursorID = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return -1, fmt.Errorf("sql: iterating dump rows: %w", err)
		}
		rows.Close()

		if len(found) > 0 {
			sink.Enqueue(found...)
			return len(found), nil
		}
		if !live {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}
