package sqlplugin

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var validDumpsPartitionName = regexp.MustCompile(`^bgpstream_dumps_\d{8}$`)

// PartitionManager creates and prunes the daily range partitions of
// bgpstream_dumps, keyed on dump_time. Partitioning on the same column the
// NextBatch cursor orders by keeps a live catalog's writes and cursor scans
// confined to the one or two most recent partitions instead of growing a
// single unbounded table.
type PartitionManager struct {
	pool          *pgxpool.Pool
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

// NewPartitionManager returns a manager bound to pool. retentionDays is the
// number of days a partition is kept before DropOldPartitions drops it;
// timezone (an IANA name, e.g. "UTC") determines where day boundaries fall.
func NewPartitionManager(pool *pgxpool.Pool, retentionDays int, timezone string, logger *zap.Logger) *PartitionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PartitionManager{pool: pool, retentionDays: retentionDays, timezone: timezone, logger: logger}
}

// Run creates today's and tomorrow's partitions, then drops partitions
// whose entire range falls before the retention cutoff.
func (pm *PartitionManager) Run(ctx context.Context) error {
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("sql: creating dump partitions: %w", err)
	}
	if err := pm.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("sql: dropping old dump partitions: %w", err)
	}
	return nil
}

// CreatePartitions ensures today's and tomorrow's bgpstream_dumps partitions
// exist, so a dump discovered right up to midnight always has somewhere to
// land.
func (pm *PartitionManager) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("sql: loading timezone %s: %w", pm.timezone, err)
	}

	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)
	dayAfter := today.AddDate(0, 0, 2)

	if err := pm.createPartition(ctx, today, tomorrow); err != nil {
		return err
	}
	return pm.createPartition(ctx, tomorrow, dayAfter)
}

func (pm *PartitionManager) createPartition(ctx context.Context, from, to time.Time) error {
	name := fmt.Sprintf("bgpstream_dumps_%s", from.Format("20060102"))
	safeName := pgx.Identifier{name}.Sanitize()

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF bgpstream_dumps FOR VALUES FROM (%d) TO (%d)`,
		safeName, from.Unix(), to.Unix(),
	)
	if _, err := pm.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("sql: creating partition %s: %w", name, err)
	}
	pm.logger.Info("dump partition ensured", zap.String("partition", name))

	safeIdx := pgx.Identifier{fmt.Sprintf("idx_%s_project_collector", name)}.Sanitize()
	idxSQL := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (project, collector, dump_time)`,
		safeIdx, safeName,
	)
	if _, err := pm.pool.Exec(ctx, idxSQL); err != nil {
		return fmt.Errorf("sql: creating project_collector index on %s: %w", name, err)
	}
	return nil
}

// DropOldPartitions drops every bgpstream_dumps partition older than the
// configured retention window.
func (pm *PartitionManager) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("sql: loading timezone %s: %w", pm.timezone, err)
	}

	cutoff := time.Now().In(loc).AddDate(0, 0, -pm.retentionDays)
	cutoffDate := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, loc)

	rows, err := pm.pool.Query(ctx,
		`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = 'bgpstream_dumps'::regclass`)
	if err != nil {
		return fmt.Errorf("sql: listing dump partitions: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("sql: scanning partition name: %w", err)
		}
		partitions = append(partitions, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sql: iterating dump partitions: %w", err)
	}

	for _, name := range partitions {
		if !validDumpsPartitionName.MatchString(name) {
			pm.logger.Warn("skipping dump partition with unexpected name", zap.String("partition", name))
			continue
		}

		dateStr := name[len(name)-8:]
		partDate, err := time.ParseInLocation("20060102", dateStr, loc)
		if err != nil {
			pm.logger.Warn("cannot parse dump partition date", zap.String("partition", name))
			continue
		}

		if partDate.Before(cutoffDate) {
			safeName := pgx.Identifier{name}.Sanitize()
			if _, err := pm.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", safeName)); err != nil {
				return fmt.Errorf("sql: dropping dump partition %s: %w", name, err)
			}
			pm.logger.Info("dropped old dump partition", zap.String("partition", name), zap.Time("cutoff", cutoffDate))
		}
	}

	return nil
}
