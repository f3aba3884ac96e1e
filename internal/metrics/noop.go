package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncSyncRun(status string) {}

func (n *NoopRecorder) ObserveSyncDuration(duration time.Duration) {}

func (n *NoopRecorder) IncSourceFetch(status string) {}

func (n *NoopRecorder) ObserveEventsCollected(count int) {}

func (n *NoopRecorder) AddDaysUpserted(count int) {}

func (n *NoopRecorder) IncInfluxWrite(status string) {}

func (n *NoopRecorder) IncMetricsCacheHit() {}

func (n *NoopRecorder) IncMetricsCacheMiss() {}
