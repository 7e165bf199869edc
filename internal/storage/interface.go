// Package storage defines the Reading Store contract and the plumbing shared by storage engines.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/chrissnell/powermeter/internal/types"
)

// ErrInvalidToken is returned when a bearer token maps to no user
var ErrInvalidToken = errors.New("invalid token")

// Scope selects whose readings a bulk operation touches. All is the
// service-privileged scope and ignores UserID.
type Scope struct {
	UserID string
	All    bool
}

// UserScope limits an operation to a single user's rows
func UserScope(userID string) Scope {
	return Scope{UserID: userID}
}

// AllUsers spans every user's rows
func AllUsers() Scope {
	return Scope{All: true}
}

// ReadingFetcher is the read side the dashboard needs
type ReadingFetcher interface {
	LatestReading(ctx context.Context, userID string) (*types.SensorReading, error)
	GetSettings(ctx context.Context, userID string) (*types.UserSettings, error)
}

// ReadingStore is the durable, append-only home of sensor readings
type ReadingStore interface {
	ReadingFetcher

	InsertReading(ctx context.Context, userID string, p types.Payload) (types.SensorReading, error)
	RecentReadings(ctx context.Context, scope Scope, limit int) ([]types.SensorReading, error)
	DeleteReadings(ctx context.Context, scope Scope) (int64, error)

	UpsertSettings(ctx context.Context, s types.UserSettings) (types.UserSettings, error)

	ResolveToken(ctx context.Context, token string) (string, error)
	IssueToken(ctx context.Context, userID string) (types.APIToken, error)
}

// Publisher receives every committed reading for change-feed delivery
type Publisher interface {
	Publish(r types.SensorReading)
}

// StorageEngineInterface is an interface that provides a few standardized
// methods for the engines fed by the reading distributor
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.SensorReading
}
