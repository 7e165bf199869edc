package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultTable tracks applied versions
const DefaultTable = "schema_migrations"

// StaticProvider serves migrations compiled into the binary
type StaticProvider struct {
	migrations     []Migration
	migrationTable string
	dbDriver       string
}

// NewStaticProvider creates a provider for the given driver
func NewStaticProvider(dbDriver string, migrations ...Migration) *StaticProvider {
	return &StaticProvider{
		migrations:     migrations,
		migrationTable: DefaultTable,
		dbDriver:       dbDriver,
	}
}

// GetMigrations returns a copy of the compiled-in migrations
func (sp *StaticProvider) GetMigrations() ([]Migration, error) {
	seen := make(map[int]bool, len(sp.migrations))
	out := make([]Migration, 0, len(sp.migrations))
	for _, m := range sp.migrations {
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration %q has invalid version %d", m.Name, m.Version)
		}
		if seen[m.Version] {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
		out = append(out, m)
	}
	return out, nil
}

// CreateMigrationTable creates the migration tracking table
func (sp *StaticProvider) CreateMigrationTable(ctx context.Context, db *sql.DB) error {
	tsType := "DATETIME"
	if sp.dbDriver == DriverPostgres {
		tsType = "TIMESTAMP"
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		applied_at %s DEFAULT CURRENT_TIMESTAMP
	)`, sp.migrationTable, tsType)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the highest applied migration version
func (sp *StaticProvider) GetCurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", sp.migrationTable)

	var version int
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// SetVersion makes version the current one, forgetting any later versions
func (sp *StaticProvider) SetVersion(ctx context.Context, db Execer, version int) error {
	placeholder := "?"
	if sp.dbDriver == DriverPostgres {
		placeholder = "$1"
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE version > %s", sp.migrationTable, placeholder)
	if _, err := db.ExecContext(ctx, del, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	if version == 0 {
		return nil
	}

	ins := fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES (%s, CURRENT_TIMESTAMP)
		ON CONFLICT (version) DO UPDATE SET applied_at = CURRENT_TIMESTAMP`, sp.migrationTable, placeholder)
	if _, err := db.ExecContext(ctx, ins, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	return nil
}
