// Package gormstore implements the Reading Store on gorm, backed by
// TimescaleDB/Postgres in production and SQLite for development and tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chrissnell/powermeter/internal/database"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
	"github.com/chrissnell/powermeter/pkg/migrate"
)

var newestFirst = clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}

// Store holds the gorm handle for the reading tables
type Store struct {
	DB      *gorm.DB
	Dialect database.Dialect

	mu        sync.RWMutex
	publisher storage.Publisher

	now   func() time.Time
	newID func() string
}

// Options tune the store at creation time
type Options struct {
	// ListenNotify installs the Postgres insert trigger used by the pgnotify change feed
	ListenNotify bool
}

// New migrates the schema and returns a ready store
func New(ctx context.Context, db *gorm.DB, dialect database.Dialect, opts Options) (*Store, error) {
	s := &Store{
		DB:      db,
		Dialect: dialect,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}

	log.Info("migrating reading store schema...")
	if err := db.WithContext(ctx).AutoMigrate(&types.SensorReading{}, &types.UserSettings{}, &types.APIToken{}); err != nil {
		return nil, fmt.Errorf("could not migrate reading store schema: %w", err)
	}

	if opts.ListenNotify {
		if dialect != database.DialectPostgres {
			return nil, errors.New("listen_notify requires a Postgres backend")
		}
		if err := s.installNotifyTrigger(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) installNotifyTrigger(ctx context.Context) error {
	log.Info("installing sensor_readings notify trigger...")
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("could not get database handle: %w", err)
	}

	m := migrate.NewMigrator(sqlDB, migrate.NewStaticProvider(migrate.DriverPostgres, postgresMigrations...))
	if err := m.MigrateUp(ctx); err != nil {
		return fmt.Errorf("could not install notify trigger: %w", err)
	}
	return nil
}

// SetPublisher registers the receiver of committed rows. A nil publisher
// turns in-process change delivery off.
func (s *Store) SetPublisher(p storage.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// InsertReading appends one row for userID
func (s *Store) InsertReading(ctx context.Context, userID string, p types.Payload) (types.SensorReading, error) {
	if userID == "" {
		return types.SensorReading{}, &types.ValidationError{Field: "user_id", Reason: "owner is required"}
	}

	r, err := types.NewSensorReading(s.newID(), userID, s.now().UTC(), p)
	if err != nil {
		return types.SensorReading{}, err
	}

	if err := s.DB.WithContext(ctx).Create(&r).Error; err != nil {
		return types.SensorReading{}, fmt.Errorf("could not store reading: %w", err)
	}

	s.mu.RLock()
	pub := s.publisher
	s.mu.RUnlock()
	if pub != nil {
		pub.Publish(r)
	}

	return r, nil
}

// LatestReading returns the newest row by timestamp, or nil when the user has none
func (s *Store) LatestReading(ctx context.Context, userID string) (*types.SensorReading, error) {
	var rows []types.SensorReading
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(newestFirst).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying latest reading: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RecentReadings returns up to limit rows for the scope, newest first.
// A non-positive limit returns every row.
func (s *Store) RecentReadings(ctx context.Context, scope storage.Scope, limit int) ([]types.SensorReading, error) {
	q := s.scoped(ctx, scope).Order(newestFirst)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []types.SensorReading
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying readings: %w", err)
	}
	return rows, nil
}

// DeleteReadings removes every row in the scope and reports how many went
func (s *Store) DeleteReadings(ctx context.Context, scope storage.Scope) (int64, error) {
	res := s.scoped(ctx, scope).Delete(&types.SensorReading{})
	if res.Error != nil {
		return 0, fmt.Errorf("error deleting readings: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) scoped(ctx context.Context, scope storage.Scope) *gorm.DB {
	q := s.DB.WithContext(ctx).Model(&types.SensorReading{})
	if scope.All {
		return q.Where("id IS NOT NULL")
	}
	return q.Where("user_id = ?", scope.UserID)
}

// GetSettings returns the user's settings row, or nil when none was saved
func (s *Store) GetSettings(ctx context.Context, userID string) (*types.UserSettings, error) {
	var rows []types.UserSettings
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying settings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertSettings creates or replaces the user's settings row
func (s *Store) UpsertSettings(ctx context.Context, settings types.UserSettings) (types.UserSettings, error) {
	if settings.UserID == "" {
		return types.UserSettings{}, &types.ValidationError{Field: "user_id", Reason: "owner is required"}
	}
	settings.UpdatedAt = s.now().UTC()

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cost_rate_php_per_kwh", "timezone", "display_name", "updated_at"}),
	}).Create(&settings).Error
	if err != nil {
		return types.UserSettings{}, fmt.Errorf("error saving settings: %w", err)
	}
	return settings, nil
}

// ResolveToken maps a bearer token to its user
func (s *Store) ResolveToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", storage.ErrInvalidToken
	}

	var t types.APIToken
	err := s.DB.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storage.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("error resolving token: %w", err)
	}
	return t.UserID, nil
}

// IssueToken mints a new bearer token for userID
func (s *Store) IssueToken(ctx context.Context, userID string) (types.APIToken, error) {
	if userID == "" {
		return types.APIToken{}, &types.ValidationError{Field: "user_id", Reason: "owner is required"}
	}
	t := types.APIToken{
		Token:     uuid.New().String(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&t).Error; err != nil {
		return types.APIToken{}, fmt.Errorf("error issuing token: %w", err)
	}
	return t, nil
}

// CheckHealth pings the database and runs a trivial query
func (s *Store) CheckHealth(ctx context.Context) *config.StorageHealthData {
	if err := database.Ping(s.DB); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "database ping failed", err)
	}

	var result int
	if err := s.DB.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error; err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "test query failed", err)
	}

	return storage.CreateHealthData(storage.StatusHealthy, fmt.Sprintf("%s connection active", s.Dialect), nil)
}
