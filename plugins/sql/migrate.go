package sqlplugin

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var baselineMigrations embed.FS

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS bgpstream_schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const migrationLockID int64 = 0x6267707374726d // "bgpstrm" as int64

type migrationFile struct {
	version  int
	filename string
	sql      []byte
}

// RunMigrations applies the migrations embedded under plugins/sql/migrations
// (the bgpstream_dumps catalog baseline) followed by any additional *.sql
// files found in extraDir, in ascending "NNNN_description.sql" version
// order, tracked in bgpstream_schema_migrations. extraDir may be empty, in
// which case only the baseline runs. Safe to call concurrently across
// processes: an advisory lock serializes application.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, extraDir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("sql: acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("sql: acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("sql: creating schema_migrations table: %w", err)
	}

	migrations, err := loadEmbeddedMigrations()
	if err != nil {
		return err
	}
	if extraDir != "" {
		extra, err := loadDiskMigrations(extraDir)
		if err != nil {
			return err
		}
		migrations = append(migrations, extra...)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	applied := make(map[int]bool)
	rows, err := conn.Query(ctx, "SELECT version FROM bgpstream_schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("sql: querying applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("sql: scanning migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sql: iterating migration rows: %w", err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			logger.Debug("migration already applied", zap.Int("version", m.version))
			continue
		}

		logger.Info("applying migration", zap.Int("version", m.version), zap.String("file", m.filename))

		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("sql: beginning transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(ctx, string(m.sql)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("sql: executing migration %d (%s): %w", m.version, m.filename, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO bgpstream_schema_migrations (version) VALUES ($1)", m.version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("sql: recording migration %d: %w", m.version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("sql: committing migration %d: %w", m.version, err)
		}

		logger.Info("migration applied", zap.Int("version", m.version))
	}

	return nil
}

func loadEmbeddedMigrations() ([]migrationFile, error) {
	entries, err := baselineMigrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("sql: reading embedded migrations: %w", err)
	}
	var out []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		ver, ok := parseMigrationVersion(e.Name())
		if !ok {
			continue
		}
		sql, err := baselineMigrations.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("sql: reading embedded migration %s: %w", e.Name(), err)
		}
		out = append(out, migrationFile{version: ver, filename: e.Name(), sql: sql})
	}
	return out, nil
}

func loadDiskMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sql: reading migrations directory %s: %w", dir, err)
	}
	var out []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		ver, ok := parseMigrationVersion(e.Name())
		if !ok {
			continue
		}
		sql, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("sql: reading migration %s: %w", e.Name(), err)
		}
		out = append(out, migrationFile{version: ver, filename: e.Name(), sql: sql})
	}
	return out, nil
}

func parseMigrationVersion(name string) (int, bool) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return 0, false
	}
	ver, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return ver, true
}
