// Package aggregate derives per-day work-pattern metrics from calendar events.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// wall-clock reads, no shared state. The reference timezone is always passed
// in through Options.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"workpattern/internal/model"
)

// Gap thresholds, in minutes.
const (
	BackToBackMaxGap     = 5
	FragmentedMaxGap     = 30
	FocusBlockMinGap     = 60
	TeamMeetingMaxPeople = 5
)

// Working hours. Events starting before WorkdayStartHour or at/after
// WorkdayEndHour count as after-hours in full.
const (
	WorkdayStartHour = 8
	WorkdayEndHour   = 18
)

const timeOfDayLayout = "15:04:05"

// Options configures an aggregation.
type Options struct {
	// Location is the reference timezone for date matching and hour-of-day
	// checks. If nil, UTC is used.
	Location *time.Location

	// OrgDomain is the organisation's e-mail domain (e.g. "example.com").
	// Attendees outside it make a meeting external. Empty disables external
	// classification.
	OrgDomain string
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// interval is a timed event reduced to its endpoints.
type interval struct {
	start time.Time
	end   time.Time
}

func (iv interval) minutes() float64 {
	d := iv.end.Sub(iv.start).Minutes()
	if d < 0 {
		return 0
	}
	return d
}

// Daily computes the metrics for a single date. Events outside day are
// ignored; events may be in any order and span any range.
func Daily(events []model.CalendarEvent, day model.Date, opts Options) model.DailyMetrics {
	loc := opts.location()
	return compute(filterDay(events, day, loc), day, opts)
}

// Window computes Daily for each of days while walking events only once to
// bucket them by date. The result is in the same order as days.
func Window(events []model.CalendarEvent, days []model.Date, opts Options) []model.DailyMetrics {
	loc := opts.location()

	wanted := make(map[model.Date][]model.CalendarEvent, len(days))
	for _, d := range days {
		wanted[d] = nil
	}
	for _, ev := range events {
		d, ok := eventDate(ev, loc)
		if !ok {
			continue
		}
		if bucket, ok := wanted[d]; ok {
			wanted[d] = append(bucket, ev)
		}
	}

	out := make([]model.DailyMetrics, 0, len(days))
	for _, d := range days {
		out = append(out, compute(wanted[d], d, opts))
	}
	return out
}

// eventDate returns the calendar date an event belongs to: the start
// endpoint's date, or the end endpoint's when the start is unusable.
func eventDate(ev model.CalendarEvent, loc *time.Location) (model.Date, bool) {
	if d, ok := ev.Start.LocalDate(loc); ok {
		return d, true
	}
	return ev.End.LocalDate(loc)
}

func filterDay(events []model.CalendarEvent, day model.Date, loc *time.Location) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range events {
		if d, ok := eventDate(ev, loc); ok && d == day {
			out = append(out, ev)
		}
	}
	return out
}

// compute assumes dayEvents already belong to day.
func compute(dayEvents []model.CalendarEvent, day model.Date, opts Options) model.DailyMetrics {
	loc := opts.location()
	m := model.DailyMetrics{
		Date:      day,
		RawEvents: dayEvents,
	}
	if m.RawEvents == nil {
		m.RawEvents = []model.CalendarEvent{}
	}

	var (
		total, longest, afterHours float64
		intervals                  []interval
	)

	for _, ev := range dayEvents {
		start, okStart := ev.Start.Instant()
		end, okEnd := ev.End.Instant()
		if !okStart || !okEnd {
			// All-day or malformed: visible in RawEvents only.
			continue
		}
		iv := interval{start: start, end: end}
		intervals = append(intervals, iv)

		dur := iv.minutes()
		total += dur
		m.MeetingCount++
		longest = math.Max(longest, dur)

		switch n := len(ev.Attendees); {
		case n == 1:
			m.OneOnOneCount++
		case n >= 2 && n <= TeamMeetingMaxPeople:
			m.TeamMeetingCount++
		case hasExternalAttendee(ev.Attendees, opts.OrgDomain):
			m.ExternalMeetingCount++
		}

		if h := start.In(loc).Hour(); h < WorkdayStartHour || h >= WorkdayEndHour {
			afterHours += dur
		}
	}

	m.TotalMeetingMinutes = roundMinutes(total)
	m.LongestMeetingMinutes = roundMinutes(longest)
	m.AfterHoursMinutes = roundMinutes(afterHours)

	if len(intervals) == 0 {
		return m
	}

	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].start.Before(intervals[j].start)
	})

	gaps := analyzeGaps(intervals)
	m.BackToBackMeetings = gaps.backToBack
	m.OverlappingMeetings = gaps.overlapping
	m.FocusBlocksCount = gaps.focusBlocks
	m.LongestFocusBlockMinutes = roundMinutes(gaps.longestFocus)
	m.FragmentedTimeMinutes = roundMinutes(gaps.fragmented)

	first := intervals[0].start
	last := intervals[0].end
	for _, iv := range intervals[1:] {
		if iv.end.After(last) {
			last = iv.end
		}
	}
	m.FirstEventTime = first.In(loc).Format(timeOfDayLayout)
	m.LastEventTime = last.In(loc).Format(timeOfDayLayout)
	m.WorkDurationMinutes = roundMinutes(math.Max(0, last.Sub(first).Minutes()))

	return m
}

type gapStats struct {
	backToBack   int
	overlapping  int
	focusBlocks  int
	longestFocus float64
	fragmented   float64
}

// analyzeGaps classifies the gap between each adjacent pair of sorted
// intervals into at most one bucket. Negative gaps are overlaps.
func analyzeGaps(sorted []interval) gapStats {
	var g gapStats
	for i := 0; i+1 < len(sorted); i++ {
		gap := sorted[i+1].start.Sub(sorted[i].end).Minutes()
		switch {
		case gap < 0:
			g.overlapping++
		case gap <= BackToBackMaxGap:
			g.backToBack++
		case gap >= FocusBlockMinGap:
			g.focusBlocks++
			g.longestFocus = math.Max(g.longestFocus, gap)
		case gap < FragmentedMaxGap:
			g.fragmented += gap
		}
	}
	return g
}

func hasExternalAttendee(attendees []model.Attendee, orgDomain string) bool {
	if orgDomain == "" {
		return false
	}
	for _, a := range attendees {
		if !inDomain(a.Email, orgDomain) {
			return true
		}
	}
	return false
}

// inDomain reports whether email belongs to domain, case-insensitively.
// Subdomains do not match.
func inDomain(email, domain string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	return strings.EqualFold(email[at+1:], strings.TrimPrefix(domain, "@"))
}

func roundMinutes(v float64) int {
	return int(math.Round(v))
}
