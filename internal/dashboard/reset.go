package dashboard

import (
	"context"
	"errors"

	"github.com/chrissnell/powermeter/internal/storage"
)

// ErrResetNotConfirmed is returned when a reset is requested without confirmation
var ErrResetNotConfirmed = errors.New("reset requires confirmation")

// ReadingDeleter is the store capability a reset needs
type ReadingDeleter interface {
	DeleteReadings(ctx context.Context, scope storage.Scope) (int64, error)
}

// ResetReadings deletes every reading in scope once the caller has confirmed.
// Without confirmation nothing is touched.
func ResetReadings(ctx context.Context, d ReadingDeleter, scope storage.Scope, confirmed bool) (int64, error) {
	if !confirmed {
		return 0, ErrResetNotConfirmed
	}
	return d.DeleteReadings(ctx, scope)
}
