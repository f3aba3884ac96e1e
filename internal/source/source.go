// Package source defines where calendar events come from and how the
// events of several sources are combined for one sync.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "workpattern/internal/log"
	"workpattern/internal/model"
)

// ErrAllSourcesFailed is returned by Collect when no source produced
// events.
var ErrAllSourcesFailed = errors.New("all calendar sources failed")

// Source yields calendar events overlapping [from, to).
type Source interface {
	ID() string
	Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error)
}

// Report is the outcome of a single source within Collect.
type Report struct {
	SourceID string
	Events   int
	Err      error
}

// Collect queries every source in order and merges their events. Events
// are stamped with their source ID and de-duplicated by (source, id),
// first occurrence winning. A failing source is reported and skipped;
// only when every source fails is ErrAllSourcesFailed returned.
func Collect(ctx context.Context, sources []Source, from, to time.Time) ([]model.CalendarEvent, []Report, error) {
	events := make([]model.CalendarEvent, 0)
	reports := make([]Report, 0, len(sources))
	seen := make(map[string]struct{})

	var errs []error
	for _, src := range sources {
		id := src.ID()

		got, err := src.Events(ctx, from, to)
		if err != nil {
			appLog.Error("calendar source failed", err, "source", id)
			reports = append(reports, Report{SourceID: id, Err: err})
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}

		kept := 0
		for _, ev := range got {
			ev.Source = id
			if ev.ID != "" {
				key := id + "\x00" + ev.ID
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			events = append(events, ev)
			kept++
		}
		appLog.Debug("calendar source collected", "source", id, "events", kept)
		reports = append(reports, Report{SourceID: id, Events: kept})
	}

	if len(sources) > 0 && len(errs) == len(sources) {
		return nil, reports, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return events, reports, nil
}

// Static serves a fixed list of events. It backs one-off aggregation of
// payloads posted to the API and tests.
type Static struct {
	Name string
	List []model.CalendarEvent
}

func (s *Static) ID() string { return s.Name }

// Events returns the events whose span overlaps [from, to). Events with
// unparsable bounds are kept so the aggregator can decide on them.
func (s *Static) Events(_ context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	return Between(s.List, from, to), nil
}

// Between filters events to those overlapping [from, to). All-day events
// are compared by their dates in the zone of from.
func Between(events []model.CalendarEvent, from, to time.Time) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		start, end, ok := bounds(ev, from.Location())
		if !ok || (start.Before(to) && (end.After(from) || !start.Before(from))) {
			out = append(out, ev)
		}
	}
	return out
}

func bounds(ev model.CalendarEvent, loc *time.Location) (time.Time, time.Time, bool) {
	resolve := func(et model.EventTime) (time.Time, bool) {
		if ts, ok := et.Instant(); ok {
			return ts, true
		}
		if et.Date != "" {
			d, err := model.ParseDate(et.Date)
			if err != nil {
				return time.Time{}, false
			}
			return d.Start(loc), true
		}
		return time.Time{}, false
	}

	start, okStart := resolve(ev.Start)
	end, okEnd := resolve(ev.End)
	switch {
	case okStart && okEnd:
		return start, end, true
	case okStart:
		return start, start, true
	case okEnd:
		return end, end, true
	default:
		return time.Time{}, time.Time{}, false
	}
}
