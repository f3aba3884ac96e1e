package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"workpattern/internal/cache"
	"workpattern/internal/metrics"
	"workpattern/internal/model"
	"workpattern/internal/source"
	"workpattern/internal/store"
	"workpattern/internal/testutil"
)

type failingSource struct{ id string }

func (f failingSource) ID() string { return f.id }

func (f failingSource) Events(context.Context, time.Time, time.Time) ([]model.CalendarEvent, error) {
	return nil, errors.New("connection refused")
}

type recordingSink struct {
	mu    sync.Mutex
	calls int
	days  int
	err   error
}

func (r *recordingSink) WriteDays(_ context.Context, _ string, days []model.DailyMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.days += len(days)
	return r.err
}

// 2025-03-12 10:00 in Seoul.
var fixedNow = time.Date(2025, 3, 12, 1, 0, 0, 0, time.UTC)

type fixture struct {
	syncer *Syncer
	store  *store.Memory
	cache  *cache.Memory
	rec    *metrics.InMemoryRecorder
	sink   *recordingSink
}

func newFixture(t *testing.T, sources ...source.Source) fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	f := fixture{
		store: store.NewMemory(),
		cache: cache.NewMemory(),
		rec:   metrics.NewInMemory(),
		sink:  &recordingSink{},
	}
	f.syncer = New(Config{
		Sources:   sources,
		Store:     f.store,
		Cache:     f.cache,
		Sink:      f.sink,
		Recorder:  f.rec,
		Location:  loc,
		OrgDomain: "example.com",
		Now:       func() time.Time { return fixedNow },
	})
	return f
}

func workCalendar() *source.Static {
	return &source.Static{Name: "work", List: []model.CalendarEvent{
		// 2025-03-11 09:00-10:00 KST, one-on-one.
		testutil.Meeting("a", "2025-03-11T00:00:00Z", "2025-03-11T01:00:00Z", "x@example.com"),
		// 2025-03-12 09:00-09:30 KST, team.
		testutil.Meeting("b", "2025-03-12T00:00:00Z", "2025-03-12T00:30:00Z", "x@example.com", "y@partner.io"),
		// Outside the 3-day window.
		testutil.Meeting("old", "2025-03-01T00:00:00Z", "2025-03-01T01:00:00Z"),
	}}
}

func TestRun_StoresWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar())
	ctx := context.Background()

	res, err := f.syncer.Run(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" || len(res.RunID) != 26 {
		t.Errorf("expected a ULID run id, got %q", res.RunID)
	}
	if res.From.String() != "2025-03-10" || res.To.String() != "2025-03-12" {
		t.Errorf("window = %s..%s, want 2025-03-10..2025-03-12", res.From, res.To)
	}
	if res.Events != 2 || len(res.Days) != 3 || len(res.SourceErrors) != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	stored, err := f.store.ListDailyMetrics(ctx, "u1", res.From, res.To)
	if err != nil {
		t.Fatalf("ListDailyMetrics: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored days, got %d", len(stored))
	}
	if stored[0].MeetingCount != 0 || stored[1].OneOnOneCount != 1 || stored[2].TeamMeetingCount != 1 {
		t.Errorf("unexpected stored metrics %+v", stored)
	}
	if stored[1].FirstEventTime != "09:00:00" {
		t.Errorf("FirstEventTime = %q, want local 09:00:00", stored[1].FirstEventTime)
	}

	statuses, _ := f.store.ListSyncStatus(ctx, "u1")
	if len(statuses) != 1 || statuses[0].State != model.SyncConnected || statuses[0].Events != 2 {
		t.Errorf("unexpected statuses %+v", statuses)
	}
	if !statuses[0].LastSuccessAt.Equal(fixedNow) {
		t.Errorf("LastSuccessAt = %s, want %s", statuses[0].LastSuccessAt, fixedNow)
	}

	if gen, _ := f.cache.Generation(ctx, "u1"); gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}
	if f.sink.calls != 1 || f.sink.days != 3 {
		t.Errorf("sink calls/days = %d/%d, want 1/3", f.sink.calls, f.sink.days)
	}

	snap := f.rec.Snapshot()
	if snap.SyncRunsSucceeded != 1 || snap.DaysUpserted != 3 || snap.EventsCollected != 2 || snap.InfluxWritesSucceeded != 1 {
		t.Errorf("unexpected recorder snapshot %+v", snap)
	}

	// The lock is released after the run.
	if _, err := f.syncer.Run(ctx, "u1", 3); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	again, _ := f.store.ListDailyMetrics(ctx, "u1", res.From, res.To)
	if len(again) != 3 || again[1].MeetingCount != stored[1].MeetingCount {
		t.Errorf("re-run changed stored rows: %+v", again)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar(), failingSource{"google"})
	ctx := context.Background()

	res, err := f.syncer.Run(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg, ok := res.SourceErrors["google"]; !ok || msg == "" {
		t.Errorf("expected google error in result, got %v", res.SourceErrors)
	}

	statuses, _ := f.store.ListSyncStatus(ctx, "u1")
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status rows, got %d", len(statuses))
	}
	google := statuses[0]
	if google.Source != "google" || google.State != model.SyncError || google.Message == "" {
		t.Errorf("unexpected google status %+v", google)
	}
	if !google.LastSuccessAt.IsZero() {
		t.Errorf("failed source should have no success time, got %s", google.LastSuccessAt)
	}

	snap := f.rec.Snapshot()
	if snap.SourceFetchesFailed != 1 || snap.SourceFetchesSucceeded != 1 {
		t.Errorf("unexpected fetch counters %+v", snap)
	}
}

func TestRun_AllSourcesFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, failingSource{"work"}, failingSource{"google"})
	ctx := context.Background()

	if _, err := f.syncer.Run(ctx, "u1", 3); !errors.Is(err, source.ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}

	stored, _ := f.store.ListDailyMetrics(ctx, "u1", model.Date{Year: 2025, Month: 1, Day: 1}, model.Date{Year: 2025, Month: 12, Day: 31})
	if len(stored) != 0 {
		t.Errorf("expected nothing stored, got %d rows", len(stored))
	}
	statuses, _ := f.store.ListSyncStatus(ctx, "u1")
	if len(statuses) != 2 {
		t.Errorf("expected error status per source, got %+v", statuses)
	}
	if gen, _ := f.cache.Generation(ctx, "u1"); gen != 0 {
		t.Errorf("generation bumped on failure: %d", gen)
	}
	if f.sink.calls != 0 {
		t.Error("sink called on failure")
	}
	if snap := f.rec.Snapshot(); snap.SyncRunsFailed != 1 {
		t.Errorf("SyncRunsFailed = %d, want 1", snap.SyncRunsFailed)
	}
}

func TestRun_InProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar())
	ctx := context.Background()

	release, ok, err := f.cache.AcquireLock(ctx, "sync:u1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: %v, %v", ok, err)
	}
	defer release()

	if _, err := f.syncer.Run(ctx, "u1", 3); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	// Other users are not blocked.
	if _, err := f.syncer.Run(ctx, "u2", 3); err != nil {
		t.Fatalf("Run for other user: %v", err)
	}
	if snap := f.rec.Snapshot(); snap.SyncRunsSkipped != 1 {
		t.Errorf("SyncRunsSkipped = %d, want 1", snap.SyncRunsSkipped)
	}
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar())
	f.sink.err = errors.New("influx down")

	if _, err := f.syncer.Run(context.Background(), "u1", 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap := f.rec.Snapshot(); snap.InfluxWritesFailed != 1 || snap.SyncRunsSucceeded != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestRun_NoSources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, err := f.syncer.Run(context.Background(), "u1", 3); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar())

	tests := []struct {
		days      int
		wantLen   int
		wantFirst string
	}{
		{1, 1, "2025-03-12"},
		{7, 7, "2025-03-06"},
		{0, DefaultDays, "2025-03-06"},
		{-3, DefaultDays, "2025-03-06"},
		{1000, MaxDays, "2024-12-13"},
	}
	for _, tt := range tests {
		got := f.syncer.Window(tt.days)
		if len(got) != tt.wantLen || got[0].String() != tt.wantFirst || got[len(got)-1].String() != "2025-03-12" {
			t.Errorf("Window(%d) = %s..%s (%d days), want %s..2025-03-12 (%d days)",
				tt.days, got[0], got[len(got)-1], len(got), tt.wantFirst, tt.wantLen)
		}
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, workCalendar())
	c := cron.New()

	if _, err := f.syncer.Schedule(context.Background(), c, "*/5 * * * *", "u1", 3, time.Minute); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("expected 1 cron entry, got %d", len(c.Entries()))
	}
	if _, err := f.syncer.Schedule(context.Background(), c, "not a spec", "u1", 3, time.Minute); err == nil {
		t.Error("expected error for invalid spec")
	}
}
