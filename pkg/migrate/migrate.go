// Package migrate applies versioned SQL migrations that gorm's AutoMigrate
// cannot express, such as triggers and functions.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/chrissnell/powermeter/internal/log"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Execer is satisfied by both *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MigrationProvider defines how migrations are loaded and how the applied
// version is tracked
type MigrationProvider interface {
	GetMigrations() ([]Migration, error)
	CreateMigrationTable(ctx context.Context, db *sql.DB) error
	GetCurrentVersion(ctx context.Context, db *sql.DB) (int, error)
	SetVersion(ctx context.Context, db Execer, version int) error
}

// Migrator handles the execution of migrations
type Migrator struct {
	db       *sql.DB
	provider MigrationProvider
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *sql.DB, provider MigrationProvider) *Migrator {
	return &Migrator{
		db:       db,
		provider: provider,
	}
}

// MigrateUp runs all pending migrations
func (m *Migrator) MigrateUp(ctx context.Context) error {
	current, migrations, err := m.load(ctx)
	if err != nil {
		return err
	}

	for _, mg := range migrations {
		if mg.Version <= current {
			continue
		}
		if err := m.execute(ctx, mg, true); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mg.Version, err)
		}
	}
	return nil
}

// MigrateDown reverts applied migrations until targetVersion is current
func (m *Migrator) MigrateDown(ctx context.Context, targetVersion int) error {
	current, migrations, err := m.load(ctx)
	if err != nil {
		return err
	}
	if targetVersion >= current {
		return fmt.Errorf("target version %d must be less than current version %d", targetVersion, current)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mg := migrations[i]
		if mg.Version > targetVersion && mg.Version <= current {
			if err := m.execute(ctx, mg, false); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", mg.Version, err)
			}
		}
	}
	return nil
}

// CurrentVersion returns the highest applied version
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.provider.CreateMigrationTable(ctx, m.db); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}
	return m.provider.GetCurrentVersion(ctx, m.db)
}

// Pending returns migrations that haven't been applied yet, oldest first
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	current, migrations, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mg := range migrations {
		if mg.Version > current {
			pending = append(pending, mg)
		}
	}
	return pending, nil
}

// load returns the current version and every known migration sorted ascending
func (m *Migrator) load(ctx context.Context) (int, []Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get current version: %w", err)
	}

	migrations, err := m.provider.GetMigrations()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return current, migrations, nil
}

// execute runs one migration and records the resulting version in a single transaction
func (m *Migrator) execute(ctx context.Context, mg Migration, up bool) error {
	stmt, direction, version := mg.Up, "up", mg.Version
	if !up {
		stmt, direction, version = mg.Down, "down", mg.Version-1
	}
	if stmt == "" {
		return fmt.Errorf("migration %d has no %s SQL", mg.Version, direction)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if err := m.provider.SetVersion(ctx, tx, version); err != nil {
		return fmt.Errorf("failed to update migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	log.Infow("applied migration", "version", mg.Version, "name", mg.Name, "direction", direction)
	return nil
}
