// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
type Recorder interface {
	// Sync pipeline metrics
	IncSyncRun(status string) // status: "success", "failed" or "skipped"
	ObserveSyncDuration(duration time.Duration)
	IncSourceFetch(status string) // status: "success" or "failed"
	ObserveEventsCollected(n int)
	AddDaysUpserted(n int)
	IncInfluxWrite(status string) // status: "success" or "failed"

	// Read path metrics
	IncMetricsCacheHit()
	IncMetricsCacheMiss()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
