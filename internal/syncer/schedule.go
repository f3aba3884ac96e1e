package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	appLog "workpattern/internal/log"
)

// Schedule registers a periodic run on c using a standard 5-field cron
// spec. Each run is bounded by timeout. A run that finds another sync in
// progress is skipped.
func (s *Syncer) Schedule(ctx context.Context, c *cron.Cron, spec, userID string, days int, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		_, err := s.Run(runCtx, userID, days)
		switch {
		case err == nil:
		case errors.Is(err, ErrSyncInProgress):
			appLog.Warn("scheduled sync skipped", "user_id", userID, "reason", err.Error())
		default:
			appLog.Error("scheduled sync failed", err, "user_id", userID)
		}
	})
}
