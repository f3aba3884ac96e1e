package ics

import (
	"context"
	"fmt"
	"time"

	"workpattern/internal/model"
)

// Calendar is an event source backed by one ICS subscription.
type Calendar struct {
	src     Source
	fetcher *Fetcher
	loc     *time.Location
}

// NewCalendar wires a subscription to a fetcher. Timed occurrences are
// reported in loc (UTC when nil).
func NewCalendar(src Source, fetcher *Fetcher, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{src: src, fetcher: fetcher, loc: loc}
}

func (c *Calendar) ID() string { return c.src.ID }

// Events fetches, parses and expands the feed, returning every occurrence
// that overlaps [from, to).
func (c *Calendar) Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	res, err := c.fetcher.Fetch(ctx, c.src)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseICS(c.src, res.Body)
	if err != nil {
		return nil, err
	}

	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: c.loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", c.src.ID, err)
	}

	events := make([]model.CalendarEvent, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		events = append(events, occ.ToCalendarEvent())
	}
	return events, nil
}
