package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var sampleICS = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//workpattern//test//EN",
	"BEGIN:VEVENT",
	"UID:standup@example.com",
	"DTSTAMP:20250301T000000Z",
	"DTSTART;TZID=Asia/Seoul:20250310T093000",
	"DTEND;TZID=Asia/Seoul:20250310T094500",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE;TZID=Asia/Seoul:20250311T093000",
	"SUMMARY:Standup",
	"ORGANIZER;CN=Lead:mailto:lead@example.com",
	"ATTENDEE;PARTSTAT=ACCEPTED:mailto:a@example.com",
	"ATTENDEE;PARTSTAT=DECLINED:MAILTO:b@partner.io",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup@example.com",
	"DTSTAMP:20250301T000000Z",
	"RECURRENCE-ID;TZID=Asia/Seoul:20250312T093000",
	"DTSTART;TZID=Asia/Seoul:20250312T110000",
	"DTEND;TZID=Asia/Seoul:20250312T113000",
	"SEQUENCE:1",
	"SUMMARY:Standup (moved)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup@example.com",
	"DTSTAMP:20250301T000000Z",
	"RECURRENCE-ID;TZID=Asia/Seoul:20250313T093000",
	"DTSTART;TZID=Asia/Seoul:20250313T093000",
	"DTEND;TZID=Asia/Seoul:20250313T094500",
	"STATUS:CANCELLED",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:offsite@example.com",
	"DTSTAMP:20250301T000000Z",
	"DTSTART;VALUE=DATE:20250314",
	"DTEND;VALUE=DATE:20250315",
	"SUMMARY:Offsite",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:review@example.com",
	"DTSTAMP:20250301T000000Z",
	"DTSTART:20250310T060000Z",
	"DURATION:PT1H30M",
	"SUMMARY:Review",
	"STATUS:CONFIRMED",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"DTSTAMP:20250301T000000Z",
	"DTSTART:20250310T060000Z",
	"SUMMARY:No UID",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "work"}, []byte(sampleICS))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	// The VEVENT without UID is skipped.
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	base := events[0]
	if base.RawRRule == "" || len(base.ExDates) != 1 || base.IsOverride {
		t.Errorf("unexpected recurrence fields %+v", base)
	}
	if base.Organizer == nil || base.Organizer.Email != "lead@example.com" {
		t.Errorf("unexpected organizer %+v", base.Organizer)
	}
	if len(base.Attendees) != 2 {
		t.Fatalf("expected 2 attendees, got %d", len(base.Attendees))
	}
	if a := base.Attendees[0]; a.Email != "a@example.com" || a.ResponseStatus != "accepted" {
		t.Errorf("unexpected attendee %+v", a)
	}
	if a := base.Attendees[1]; a.Email != "b@partner.io" || a.ResponseStatus != "declined" {
		t.Errorf("unexpected attendee %+v", a)
	}

	if !events[1].IsOverride || events[1].Seq != 1 {
		t.Errorf("expected override with sequence 1, got %+v", events[1])
	}
	if events[2].Status != "cancelled" {
		t.Errorf("Status = %q, want cancelled", events[2].Status)
	}
	if !events[3].AllDay {
		t.Error("expected all-day event")
	}
	review := events[4]
	if got := review.End.Sub(review.Start); got != 90*time.Minute {
		t.Errorf("DURATION end offset = %s, want 1h30m", got)
	}
}

func TestParseICS_Errors(t *testing.T) {
	if _, err := ParseICS(Source{ID: "x"}, nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestExpandOccurrences(t *testing.T) {
	loc := seoul(t)
	parsed, err := ParseICS(Source{ID: "work"}, []byte(sampleICS))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      time.Date(2025, 3, 10, 0, 0, 0, 0, loc),
		RangeEnd:        time.Date(2025, 3, 17, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}

	var standups []string
	var others []string
	for _, occ := range res.Occurrences {
		if occ.UID == "standup@example.com" {
			standups = append(standups, occ.Start.Format("01-02 15:04"))
			if !occ.Recurring {
				t.Errorf("standup occurrence should be recurring: %+v", occ)
			}
			continue
		}
		others = append(others, occ.UID)
	}

	// 03-11 is excluded, 03-12 is moved, 03-13 is cancelled.
	want := []string{"03-10 09:30", "03-12 11:00", "03-14 09:30"}
	if strings.Join(standups, ",") != strings.Join(want, ",") {
		t.Errorf("standups = %v, want %v", standups, want)
	}
	if len(others) != 2 {
		t.Errorf("expected offsite and review, got %v", others)
	}
	if len(res.TruncatedEvents) != 0 {
		t.Errorf("unexpected truncation %v", res.TruncatedEvents)
	}
}

func TestExpandOccurrences_RangeAndCap(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	events := []ParsedEvent{{
		Source:   Source{ID: "s"},
		UID:      "daily",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=DAILY",
	}}

	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart:             start,
		RangeEnd:               start.AddDate(0, 0, 30),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	if len(res.Occurrences) != 10 {
		t.Errorf("expected 10 occurrences after cap, got %d", len(res.Occurrences))
	}
	if len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "daily" {
		t.Errorf("unexpected truncation %v", res.TruncatedEvents)
	}

	if _, err := ExpandOccurrences(events, ExpandConfig{RangeStart: start, RangeEnd: start.Add(-time.Hour)}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestExpandOccurrences_SpanningWindowStart(t *testing.T) {
	start := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	events := []ParsedEvent{{
		UID:      "late",
		Start:    start,
		End:      start.Add(2 * time.Hour),
		RawRRule: "FREQ=DAILY;COUNT=3",
	}}

	// The window starts at midnight; the instance from the previous evening
	// still overlaps it.
	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	if len(res.Occurrences) != 1 || !res.Occurrences[0].Start.Equal(start) {
		t.Errorf("expected the 01-01 instance, got %+v", res.Occurrences)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"PT1H30M", 90 * time.Minute, true},
		{"P1D", 24 * time.Hour, true},
		{"P1W", 7 * 24 * time.Hour, true},
		{"P1DT2H", 26 * time.Hour, true},
		{"-PT15M", -15 * time.Minute, true},
		{"PT45S", 45 * time.Second, true},
		{"1H", 0, false},
		{"P", 0, false},
		{"PT5", 0, false},
		{"P1H", 0, false},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseDuration(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("parseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://calendar.example.com/private/abc123/basic.ics?token=s3cret")
	if got != "https://calendar.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if strings.Contains(redactURL("not a url"), "not a url") {
		t.Error("expected unparsable URL to be fully redacted")
	}
}

func TestCalendar_EventsUsesConditionalCache(t *testing.T) {
	var (
		hits    atomic.Int32
		failing atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(sampleICS))
	}))
	t.Cleanup(srv.Close)

	loc := seoul(t)
	fetcher := NewFetcher(t.TempDir(), srv.Client())
	cal := NewCalendar(Source{ID: "work", URL: srv.URL + "/basic.ics"}, fetcher, loc)

	if cal.ID() != "work" {
		t.Errorf("ID = %q, want work", cal.ID())
	}

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	to := time.Date(2025, 3, 11, 0, 0, 0, 0, loc)

	ctx := context.Background()
	first, err := cal.Events(ctx, from, to)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	// Standup at 09:30 and review at 15:00 on 03-10.
	if len(first) != 2 {
		t.Fatalf("expected 2 events on 03-10, got %d: %+v", len(first), first)
	}
	for _, ev := range first {
		if ev.Source != "work" {
			t.Errorf("event source = %q, want work", ev.Source)
		}
	}

	res, err := fetcher.Fetch(ctx, Source{ID: "work", URL: srv.URL + "/basic.ics"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.FromCache {
		t.Error("expected 304 to be served from cache")
	}

	failing.Store(true)
	again, err := cal.Events(ctx, from, to)
	if err != nil {
		t.Fatalf("expected cached fallback on server error, got %v", err)
	}
	if len(again) != len(first) {
		t.Errorf("cached fallback returned %d events, want %d", len(again), len(first))
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestFetcher_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(t.TempDir(), srv.Client())
	if _, err := f.Fetch(context.Background(), Source{ID: "x", URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404 without cache")
	}
	if _, err := f.Fetch(context.Background(), Source{ID: "x"}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
