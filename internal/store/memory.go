package store

import (
	"context"
	"sort"
	"sync"

	"workpattern/internal/model"
)

// Memory is a map-backed Store. Data lives for the process lifetime.
type Memory struct {
	mu      sync.RWMutex
	metrics map[string]map[model.Date]model.DailyMetrics
	status  map[string]map[string]model.SyncStatus
}

func NewMemory() *Memory {
	return &Memory{
		metrics: make(map[string]map[model.Date]model.DailyMetrics),
		status:  make(map[string]map[string]model.SyncStatus),
	}
}

func (m *Memory) UpsertDailyMetrics(_ context.Context, userID string, days []model.DailyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDate := m.metrics[userID]
	if byDate == nil {
		byDate = make(map[model.Date]model.DailyMetrics)
		m.metrics[userID] = byDate
	}
	for _, d := range days {
		byDate[d.Date] = cloneMetrics(d)
	}
	return nil
}

func (m *Memory) ListDailyMetrics(_ context.Context, userID string, from, to model.Date) ([]model.DailyMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.DailyMetrics, 0)
	for date, d := range m.metrics[userID] {
		if date.Before(from) || to.Before(date) {
			continue
		}
		out = append(out, cloneMetrics(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) UpdateSyncStatus(_ context.Context, st model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySource := m.status[st.UserID]
	if bySource == nil {
		bySource = make(map[string]model.SyncStatus)
		m.status[st.UserID] = bySource
	}
	if st.State == model.SyncConnected {
		st.LastSuccessAt = st.SyncedAt
	} else {
		st.LastSuccessAt = bySource[st.Source].LastSuccessAt
	}
	bySource[st.Source] = st
	return nil
}

func (m *Memory) ListSyncStatus(_ context.Context, userID string) ([]model.SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.SyncStatus, 0, len(m.status[userID]))
	for _, st := range m.status[userID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }

func cloneMetrics(d model.DailyMetrics) model.DailyMetrics {
	events := make([]model.CalendarEvent, len(d.RawEvents))
	copy(events, d.RawEvents)
	d.RawEvents = events
	return d
}
