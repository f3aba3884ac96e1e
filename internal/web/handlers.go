package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"workpattern/internal/aggregate"
	"workpattern/internal/cache"
	appLog "workpattern/internal/log"
	"workpattern/internal/model"
	"workpattern/internal/source"
	"workpattern/internal/syncer"
)

const (
	metricsCacheTTL = 30 * time.Second
	// maxRangeDays bounds a single /api/metrics read.
	maxRangeDays = 366
	// maxAggregateBody bounds POST /api/aggregate payloads.
	maxAggregateBody = 10 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReady pings the store and the cache.
//
// GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, 2)
	healthy := true
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	if s.deps.Store != nil {
		check("store", s.deps.Store.Ping)
	} else {
		checks["store"] = "not configured"
		healthy = false
	}
	check("cache", s.deps.Cache.Ping)

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ok", Checks: checks})
}

// metricsResponse is the JSON response shape for /api/metrics.
type metricsResponse struct {
	UserID   string               `json:"user_id"`
	From     model.Date           `json:"from"`
	To       model.Date           `json:"to"`
	Timezone string               `json:"timezone"`
	Days     []model.DailyMetrics `json:"days"`
}

// handleMetrics returns stored daily metrics for the configured user.
//
// GET /api/metrics?from=2025-03-01&to=2025-03-07
//   - from, to: inclusive YYYY-MM-DD dates. Defaults cover the last
//     backfill_days days, today included.
//
// Responses are cached for 30s under the user's cache generation, which
// every successful sync bumps.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.cfg.UserID

	from, to, err := s.metricsRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := ""
	if gen, err := s.deps.Cache.Generation(ctx, userID); err != nil {
		appLog.Error("metrics cache generation lookup failed", err, "user_id", userID)
	} else {
		key = fmt.Sprintf("metrics:%s:%d:%s:%s", userID, gen, from, to)
		body, err := s.deps.Cache.Get(ctx, key)
		switch {
		case err == nil:
			s.deps.Recorder.IncMetricsCacheHit()
			writeRawJSON(w, http.StatusOK, body)
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			appLog.Error("metrics cache read failed", err, "key", key)
		}
		s.deps.Recorder.IncMetricsCacheMiss()
	}

	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	days, err := s.deps.Store.ListDailyMetrics(ctx, userID, from, to)
	if err != nil {
		appLog.Error("list daily metrics failed", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}
	if days == nil {
		days = []model.DailyMetrics{}
	}

	body, err := json.Marshal(metricsResponse{
		UserID:   userID,
		From:     from,
		To:       to,
		Timezone: s.cfg.Location().String(),
		Days:     days,
	})
	if err != nil {
		appLog.Error("encode metrics response failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode metrics")
		return
	}
	body = append(body, '\n')
	if key != "" {
		if err := s.deps.Cache.Set(ctx, key, body, metricsCacheTTL); err != nil {
			appLog.Error("metrics cache write failed", err, "key", key)
		}
	}
	writeRawJSON(w, http.StatusOK, body)
}

func (s *Server) metricsRange(r *http.Request) (model.Date, model.Date, error) {
	q := r.URL.Query()
	today := model.DateOf(s.deps.Now(), s.cfg.Location())

	to := today
	if v := q.Get("to"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return model.Date{}, model.Date{}, fmt.Errorf("invalid to: %q", v)
		}
		to = d
	}
	from := to.AddDays(-(max(s.cfg.BackfillDays, 1) - 1))
	if v := q.Get("from"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return model.Date{}, model.Date{}, fmt.Errorf("invalid from: %q", v)
		}
		from = d
	}

	if to.Before(from) {
		return model.Date{}, model.Date{}, errors.New("from is after to")
	}
	if from.AddDays(maxRangeDays - 1).Before(to) {
		return model.Date{}, model.Date{}, fmt.Errorf("range exceeds %d days", maxRangeDays)
	}
	return from, to, nil
}

// handleSync runs a sync for the configured user.
//
// POST /api/sync?days=7
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.BackfillDays)

	res, err := s.deps.Syncer.Run(r.Context(), s.cfg.UserID, days)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrNoSources):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, source.ErrAllSourcesFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		appLog.Error("manual sync failed", err, "user_id", s.cfg.UserID)
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

type statusResponse struct {
	UserID       string             `json:"user_id"`
	Integrations []model.SyncStatus `json:"integrations"`
}

// handleStatus lists the integration status rows of the configured user.
//
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	rows, err := s.deps.Store.ListSyncStatus(r.Context(), s.cfg.UserID)
	if err != nil {
		appLog.Error("list sync status failed", err, "user_id", s.cfg.UserID)
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	if rows == nil {
		rows = []model.SyncStatus{}
	}
	writeJSON(w, http.StatusOK, statusResponse{UserID: s.cfg.UserID, Integrations: rows})
}

// aggregateRequest is the body of POST /api/aggregate. Events accepts a
// bare array or a Google-style {"items": [...]} object. A missing
// org_domain falls back to the configured one; an empty string disables
// external classification.
type aggregateRequest struct {
	Date      model.Date      `json:"date"`
	Timezone  string          `json:"timezone"`
	OrgDomain *string         `json:"org_domain"`
	Events    json.RawMessage `json:"events"`
}

// handleAggregate computes metrics for one date from posted events.
// Nothing is stored.
//
// POST /api/aggregate
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAggregateBody)

	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	loc := s.cfg.Location()
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", req.Timezone))
			return
		}
		loc = l
	}
	orgDomain := s.cfg.OrgDomain
	if req.OrgDomain != nil {
		orgDomain = *req.OrgDomain
	}

	events, err := source.DecodeEvents(req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, aggregate.Daily(events, req.Date, aggregate.Options{
		Location:  loc,
		OrgDomain: orgDomain,
	}))
}

// handleDebugMetrics returns recorder counters in Prometheus exposition
// format.
//
// GET /api/debug/metrics
func (s *Server) handleDebugMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	snap := s.deps.Snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "workpattern_sync_runs_total{status=\"success\"} %d\n", snap.SyncRunsSucceeded)
	writeMetric(w, "workpattern_sync_runs_total{status=\"failed\"} %d\n", snap.SyncRunsFailed)
	writeMetric(w, "workpattern_sync_runs_total{status=\"skipped\"} %d\n", snap.SyncRunsSkipped)
	writeMetric(w, "workpattern_sync_duration_seconds_count %d\n", snap.SyncDurationCount)
	writeMetric(w, "workpattern_sync_duration_seconds_sum %.6f\n", float64(snap.SyncDurationTotalNs)/1e9)

	writeMetric(w, "workpattern_source_fetches_total{status=\"success\"} %d\n", snap.SourceFetchesSucceeded)
	writeMetric(w, "workpattern_source_fetches_total{status=\"failed\"} %d\n", snap.SourceFetchesFailed)
	writeMetric(w, "workpattern_events_collected_total %d\n", snap.EventsCollected)
	writeMetric(w, "workpattern_days_upserted_total %d\n", snap.DaysUpserted)

	writeMetric(w, "workpattern_influx_writes_total{status=\"success\"} %d\n", snap.InfluxWritesSucceeded)
	writeMetric(w, "workpattern_influx_writes_total{status=\"failed\"} %d\n", snap.InfluxWritesFailed)

	writeMetric(w, "workpattern_metrics_cache_hits_total %d\n", snap.MetricsCacheHits)
	writeMetric(w, "workpattern_metrics_cache_misses_total %d\n", snap.MetricsCacheMisses)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
