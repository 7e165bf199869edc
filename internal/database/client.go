// Package database opens gorm connections for the Reading Store.
package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/pkg/config"
)

// Dialect names the SQL backend behind a connection
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DefaultSQLitePath is used when no storage backend is configured
const DefaultSQLitePath = "powermeter.db"

func gormConfig() *gorm.Config {
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{Logger: dbLogger}
}

// CreateConnection opens a TimescaleDB/Postgres connection with standard GORM configuration
func CreateConnection(connectionString string) (*gorm.DB, error) {
	log.Info("connecting to TimescaleDB...")
	db, err := gorm.Open(postgres.Open(connectionString), gormConfig())
	if err != nil {
		log.Warn("warning: unable to create a TimescaleDB connection:", err)
		return nil, err
	}
	log.Info("TimescaleDB connection successful")
	return db, nil
}

// CreateSQLiteConnection opens a SQLite database file, or an in-memory
// database when path is a "file::memory:" DSN
func CreateSQLiteConnection(path string) (*gorm.DB, error) {
	log.Infof("opening SQLite database %s", path)
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("unable to open SQLite database %s: %w", path, err)
	}
	return db, nil
}

// Open picks the backend from the storage configuration. Postgres wins when
// a connection string is present; otherwise SQLite is used.
func Open(sc config.StorageData) (*gorm.DB, Dialect, error) {
	if sc.TimescaleDB != nil && sc.TimescaleDB.ConnectionString != "" {
		db, err := CreateConnection(sc.TimescaleDB.ConnectionString)
		return db, DialectPostgres, err
	}

	path := DefaultSQLitePath
	if sc.SQLite != nil && sc.SQLite.Path != "" {
		path = sc.SQLite.Path
	}
	db, err := CreateSQLiteConnection(path)
	return db, DialectSQLite, err
}

// Ping verifies the underlying connection is alive
func Ping(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database connection: %w", err)
	}
	return sqlDB.Ping()
}
