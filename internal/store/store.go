// Package store persists daily metrics and integration status.
package store

import (
	"context"
	"errors"
	"fmt"

	"workpattern/internal/config"
	"workpattern/internal/model"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store is the persistence boundary of the sync pipeline and the API.
//
// UpsertDailyMetrics replaces the row for each (user, date) wholesale, so
// re-running a sync over the same window is idempotent.
//
// UpdateSyncStatus replaces the (user, source) row. LastSuccessAt is set
// from SyncedAt when the state is connected and kept otherwise.
type Store interface {
	UpsertDailyMetrics(ctx context.Context, userID string, days []model.DailyMetrics) error
	// ListDailyMetrics returns rows with from <= date <= to, oldest first.
	ListDailyMetrics(ctx context.Context, userID string, from, to model.Date) ([]model.DailyMetrics, error)
	UpdateSyncStatus(ctx context.Context, st model.SyncStatus) error
	// ListSyncStatus returns the user's rows ordered by source.
	ListSyncStatus(ctx context.Context, userID string) ([]model.SyncStatus, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the store selected by cfg.Driver. The postgres schema is
// migrated before returning.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemory(), nil
	case config.DriverPostgres:
		pg, err := NewPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close(ctx)
			return nil, err
		}
		return pg, nil
	case config.DriverMongo:
		return NewMongo(ctx, cfg.URL, cfg.Database)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
