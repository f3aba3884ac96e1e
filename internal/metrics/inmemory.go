package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	SyncRunsSucceeded   uint64
	SyncRunsFailed      uint64
	SyncRunsSkipped     uint64
	SyncDurationCount   uint64
	SyncDurationTotalNs int64

	SourceFetchesSucceeded uint64
	SourceFetchesFailed    uint64
	EventsCollected        uint64
	DaysUpserted           uint64

	InfluxWritesSucceeded uint64
	InfluxWritesFailed    uint64

	MetricsCacheHits   uint64
	MetricsCacheMisses uint64
}

// InMemoryRecorder stores metrics in memory. It backs /api/debug/metrics
// and tests.
type InMemoryRecorder struct {
	syncRunsSucceeded   atomic.Uint64
	syncRunsFailed      atomic.Uint64
	syncRunsSkipped     atomic.Uint64
	syncDurationCount   atomic.Uint64
	syncDurationTotalNs atomic.Int64

	sourceFetchesSucceeded atomic.Uint64
	sourceFetchesFailed    atomic.Uint64
	eventsCollected        atomic.Uint64
	daysUpserted           atomic.Uint64

	influxWritesSucceeded atomic.Uint64
	influxWritesFailed    atomic.Uint64

	metricsCacheHits   atomic.Uint64
	metricsCacheMisses atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		SyncRunsSucceeded:      m.syncRunsSucceeded.Load(),
		SyncRunsFailed:         m.syncRunsFailed.Load(),
		SyncRunsSkipped:        m.syncRunsSkipped.Load(),
		SyncDurationCount:      m.syncDurationCount.Load(),
		SyncDurationTotalNs:    m.syncDurationTotalNs.Load(),
		SourceFetchesSucceeded: m.sourceFetchesSucceeded.Load(),
		SourceFetchesFailed:    m.sourceFetchesFailed.Load(),
		EventsCollected:        m.eventsCollected.Load(),
		DaysUpserted:           m.daysUpserted.Load(),
		InfluxWritesSucceeded:  m.influxWritesSucceeded.Load(),
		InfluxWritesFailed:     m.influxWritesFailed.Load(),
		MetricsCacheHits:       m.metricsCacheHits.Load(),
		MetricsCacheMisses:     m.metricsCacheMisses.Load(),
	}
}

// IncSyncRun increments the run counter for status.
func (m *InMemoryRecorder) IncSyncRun(status string) {
	switch status {
	case "success":
		m.syncRunsSucceeded.Add(1)
	case "skipped":
		m.syncRunsSkipped.Add(1)
	default:
		m.syncRunsFailed.Add(1)
	}
}

// ObserveSyncDuration records the wall time of one run.
func (m *InMemoryRecorder) ObserveSyncDuration(duration time.Duration) {
	m.syncDurationCount.Add(1)
	m.syncDurationTotalNs.Add(duration.Nanoseconds())
}

// IncSourceFetch increments the per-source fetch counter for status.
func (m *InMemoryRecorder) IncSourceFetch(status string) {
	if status == "success" {
		m.sourceFetchesSucceeded.Add(1)
		return
	}
	m.sourceFetchesFailed.Add(1)
}

// ObserveEventsCollected adds the number of events a run aggregated.
func (m *InMemoryRecorder) ObserveEventsCollected(n int) {
	if n > 0 {
		m.eventsCollected.Add(uint64(n))
	}
}

// AddDaysUpserted adds the number of stored day rows.
func (m *InMemoryRecorder) AddDaysUpserted(n int) {
	if n > 0 {
		m.daysUpserted.Add(uint64(n))
	}
}

// IncInfluxWrite increments the sink write counter for status.
func (m *InMemoryRecorder) IncInfluxWrite(status string) {
	if status == "success" {
		m.influxWritesSucceeded.Add(1)
		return
	}
	m.influxWritesFailed.Add(1)
}

// IncMetricsCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncMetricsCacheHit() {
	m.metricsCacheHits.Add(1)
}

// IncMetricsCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncMetricsCacheMiss() {
	m.metricsCacheMisses.Add(1)
}
