// Package syncer runs the calendar sync: collect events from every source,
// aggregate them per day, then persist and publish the results.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"workpattern/internal/aggregate"
	"workpattern/internal/cache"
	appLog "workpattern/internal/log"
	"workpattern/internal/metrics"
	"workpattern/internal/model"
	"workpattern/internal/source"
	"workpattern/internal/store"
)

const (
	// DefaultDays is the window recomputed when the caller does not say.
	DefaultDays = 7
	// MaxDays bounds a single run.
	MaxDays = 90

	defaultLockTTL = 10 * time.Minute
)

// Sentinel errors.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNoSources      = errors.New("no calendar sources configured")
)

// Sink receives the computed days after they were stored.
type Sink interface {
	WriteDays(ctx context.Context, userID string, days []model.DailyMetrics) error
}

// Config wires a Syncer. Sink and Recorder are optional.
type Config struct {
	Sources  []source.Source
	Store    store.Store
	Cache    cache.Cache
	Sink     Sink
	Recorder metrics.Recorder

	// Location is the reference zone for day boundaries and working hours.
	Location  *time.Location
	OrgDomain string
	LockTTL   time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes one completed run.
type Result struct {
	RunID  string               `json:"run_id"`
	UserID string               `json:"user_id"`
	From   model.Date           `json:"from"`
	To     model.Date           `json:"to"`
	Days   []model.DailyMetrics `json:"days"`
	Events int                  `json:"events"`
	// SourceErrors maps source ID to error message for sources that failed
	// while others succeeded.
	SourceErrors map[string]string `json:"source_errors,omitempty"`
}

// Syncer is safe for concurrent use; overlapping runs for the same user
// are rejected through the cache lock.
type Syncer struct {
	cfg Config
}

func New(cfg Config) *Syncer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoop()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Syncer{cfg: cfg}
}

// Window returns the dates a run of the given length covers, ending today
// in the configured zone.
func (s *Syncer) Window(days int) []model.Date {
	days = clampDays(days)
	today := model.DateOf(s.cfg.Now(), s.cfg.Location)
	return model.DateRange(today.AddDays(-(days - 1)), today)
}

// Run syncs the last days days (today included) for userID.
func (s *Syncer) Run(ctx context.Context, userID string, days int) (*Result, error) {
	if len(s.cfg.Sources) == 0 {
		return nil, ErrNoSources
	}
	rec := s.cfg.Recorder

	release, ok, err := s.cfg.Cache.AcquireLock(ctx, "sync:"+userID, s.cfg.LockTTL)
	if err != nil {
		rec.IncSyncRun("failed")
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		rec.IncSyncRun("skipped")
		return nil, ErrSyncInProgress
	}
	defer release()

	started := time.Now()
	runID := ulid.Make().String()
	loc := s.cfg.Location
	dates := s.Window(days)
	from, to := dates[0], dates[len(dates)-1]

	appLog.Info("sync started", "run_id", runID, "user_id", userID, "from", from, "to", to)

	events, reports, collectErr := source.Collect(ctx, s.cfg.Sources, from.Start(loc), to.AddDays(1).Start(loc))

	res := &Result{RunID: runID, UserID: userID, From: from, To: to}
	syncedAt := s.cfg.Now().UTC()
	for _, rep := range reports {
		st := model.SyncStatus{
			UserID:   userID,
			Source:   rep.SourceID,
			State:    model.SyncConnected,
			Events:   rep.Events,
			SyncedAt: syncedAt,
		}
		if rep.Err != nil {
			st.State = model.SyncError
			st.Message = rep.Err.Error()
			if res.SourceErrors == nil {
				res.SourceErrors = make(map[string]string)
			}
			res.SourceErrors[rep.SourceID] = rep.Err.Error()
			rec.IncSourceFetch("failed")
		} else {
			rec.IncSourceFetch("success")
		}
		if err := s.cfg.Store.UpdateSyncStatus(ctx, st); err != nil {
			appLog.Error("sync status update failed", err, "run_id", runID, "source", rep.SourceID)
		}
	}

	if collectErr != nil {
		rec.IncSyncRun("failed")
		return nil, collectErr
	}

	res.Events = len(events)
	res.Days = aggregate.Window(events, dates, aggregate.Options{
		Location:  loc,
		OrgDomain: s.cfg.OrgDomain,
	})

	if err := s.cfg.Store.UpsertDailyMetrics(ctx, userID, res.Days); err != nil {
		rec.IncSyncRun("failed")
		return nil, fmt.Errorf("store daily metrics: %w", err)
	}

	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.WriteDays(ctx, userID, res.Days); err != nil {
			rec.IncInfluxWrite("failed")
			appLog.Error("time-series write failed", err, "run_id", runID)
		} else {
			rec.IncInfluxWrite("success")
		}
	}

	if _, err := s.cfg.Cache.BumpGeneration(ctx, userID); err != nil {
		appLog.Error("cache generation bump failed", err, "run_id", runID)
	}

	rec.IncSyncRun("success")
	rec.ObserveSyncDuration(time.Since(started))
	rec.ObserveEventsCollected(res.Events)
	rec.AddDaysUpserted(len(res.Days))

	appLog.Info("sync completed",
		"run_id", runID,
		"user_id", userID,
		"days", len(res.Days),
		"events", res.Events,
		"source_errors", len(res.SourceErrors),
		"duration", time.Since(started).String(),
	)
	return res, nil
}

func clampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	default:
		return days
	}
}
