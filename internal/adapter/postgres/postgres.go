// Package postgres archives notifications and read receipts in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/pscheid92/stockrelay/internal/platform/version"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// The archive is written by a single worker plus read-mark bursts, so a
	// small pool is enough unless the URL says otherwise.
	defaultMaxConns = 4
	defaultMinConns = 1

	// archiveLockKey serializes migrations across instances ("stockr").
	archiveLockKey     = 0x73746f636b72
	lockReleaseTimeout = 5 * time.Second
	versionTable       = "public.schema_version"
)

// Connect opens a pool tagged with the service name and verifies it with a
// ping. Query timings are recorded by MetricsTracer.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	params := poolParams(databaseURL)
	if !params["pool_max_conns"] {
		poolCfg.MaxConns = defaultMaxConns
	}
	if !params["pool_min_conns"] {
		poolCfg.MinConns = defaultMinConns
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = version.Service
	}
	poolCfg.ConnConfig.Tracer = &MetricsTracer{}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"sslmode", describeSSLMode(databaseURL),
		"min_conns", poolCfg.MinConns,
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

// poolParams reports which pool_* settings the URL sets explicitly.
func poolParams(databaseURL string) map[string]bool {
	set := make(map[string]bool)
	u, err := url.Parse(databaseURL)
	if err != nil {
		return set
	}
	for key := range u.Query() {
		if strings.HasPrefix(key, "pool_") {
			set[key] = true
		}
	}
	return set
}

func describeSSLMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "" {
		return "prefer (default)"
	}
	return mode
}

// Migrate brings the archive schema up to date. Concurrent instances wait on
// an advisory lock so only one of them applies migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), archiveLockKey, func() error {
		return migrateSchema(ctx, conn.Conn())
	})
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	schema, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(schema); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	migrator.OnStart = func(sequence int32, name, direction, _ string) {
		slog.Info("Applying archive migration", "sequence", sequence, "name", name, "direction", direction)
	}

	from, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Archive schema ready", "from_version", from, "to_version", len(migrator.Migrations))
	return nil
}

// withAdvisoryLock runs fn while holding a session-level advisory lock on
// conn. The unlock uses its own deadline so a cancelled ctx still releases.
func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, key int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			slog.Error("Failed to release advisory lock", "key", key, "error", err)
		}
	}()

	return fn()
}
