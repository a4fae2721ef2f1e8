// Package migrate applies versioned SQL files to a PostgreSQL transfer
// history database. SQLite deployments rely on gorm's AutoMigrate instead.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lgulliver/strongbox/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned SQL file
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// State pairs a migration with the time it was applied, if it was
type State struct {
	Migration *Migration
	AppliedAt *time.Time
}

// ParseMigration parses "NNN_name.sql" content split by the Up/Down markers
func ParseMigration(filename, content string) (*Migration, error) {
	base := strings.TrimSuffix(filename, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid migration filename %q, want NNN_name.sql", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return nil, fmt.Errorf("invalid version in migration filename %q", filename)
	}

	var up, down []string
	section := ""
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			section = "up"
			continue
		case downMarker:
			section = "down"
			continue
		}
		switch section {
		case "up":
			up = append(up, line)
		case "down":
			down = append(down, line)
		}
	}

	m := &Migration{
		Version: version,
		Name:    name,
		UpSQL:   strings.TrimSpace(strings.Join(up, "\n")),
		DownSQL: strings.TrimSpace(strings.Join(down, "\n")),
	}
	if m.UpSQL == "" {
		return nil, fmt.Errorf("migration %q has no %q section", filename, upMarker)
	}
	return m, nil
}

// LoadMigrations reads every .sql file in dir, sorted by version. Duplicate
// versions are an error.
func LoadMigrations(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		migration, err := ParseMigration(entry.Name(), string(content))
		if err != nil {
			return nil, err
		}
		if other, dup := seen[migration.Version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), migration.Version)
		}
		seen[migration.Version] = entry.Name()
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns the migrations whose version is not in applied
func Pending(migrations []*Migration, applied map[int]time.Time) []*Migration {
	var pending []*Migration
	for _, m := range migrations {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}

// Migrator handles database migrations
type Migrator struct {
	db         *sql.DB
	migrations []*Migration
}

// NewMigrator connects to the configured PostgreSQL database and loads the
// migration files from dir
func NewMigrator(ctx context.Context, cfg *config.DatabaseConfig, fsys fs.FS, dir string) (*Migrator, error) {
	if cfg.Driver != "postgres" {
		return nil, fmt.Errorf("sql migrations only apply to postgres, driver is %q", cfg.Driver)
	}

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{db: db, migrations: migrations}, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status lists every known migration with its applied time
func (m *Migrator) Status(ctx context.Context) ([]State, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]State, 0, len(m.migrations))
	for _, migration := range m.migrations {
		state := State{Migration: migration}
		if at, ok := applied[migration.Version]; ok {
			at := at
			state.AppliedAt = &at
		}
		states = append(states, state)
	}
	return states, nil
}

// Up runs all pending migrations in version order
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	pending := Pending(m.migrations, applied)
	if len(pending) == 0 {
		log.Info().Msg("No pending migrations")
		return nil
	}

	log.Info().Int("count", len(pending)).Msg("Running pending migrations")
	for _, migration := range pending {
		err := m.inTx(ctx, migration.UpSQL,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var target *Migration
	for i := len(m.migrations) - 1; i >= 0; i-- {
		if _, ok := applied[m.migrations[i].Version]; ok {
			target = m.migrations[i]
			break
		}
	}
	if target == nil {
		log.Info().Msg("No migrations to roll back")
		return nil
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %d (%s) cannot be rolled back", target.Version, target.Name)
	}

	err = m.inTx(ctx, target.DownSQL, "DELETE FROM schema_migrations WHERE version = $1", target.Version)
	if err != nil {
		return fmt.Errorf("failed to roll back migration %d (%s): %w", target.Version, target.Name, err)
	}

	log.Info().Int("version", target.Version).Str("name", target.Name).Msg("Rolled back migration")
	return nil
}

// inTx runs a migration body and its bookkeeping statement atomically
func (m *Migrator) inTx(ctx context.Context, body, bookkeeping string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
