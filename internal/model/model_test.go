package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d != (Date{Year: 2024, Month: time.February, Day: 29}) {
		t.Errorf("unexpected date %+v", d)
	}
	if d.String() != "2024-02-29" {
		t.Errorf("String() = %q", d.String())
	}

	for _, bad := range []string{"", "2024-13-01", "2024-02-30", "20240229"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) expected error", bad)
		}
	}
}

func TestDate_AddDaysAndRange(t *testing.T) {
	d := Date{Year: 2024, Month: time.December, Day: 30}

	if got := d.AddDays(3).String(); got != "2025-01-02" {
		t.Errorf("AddDays(3) = %s, want 2025-01-02", got)
	}
	if got := d.AddDays(-30).String(); got != "2024-11-30" {
		t.Errorf("AddDays(-30) = %s, want 2024-11-30", got)
	}

	r := DateRange(d, d.AddDays(3))
	if len(r) != 4 || r[0] != d || r[3].String() != "2025-01-02" {
		t.Errorf("unexpected range %v", r)
	}
	if DateRange(d, d.AddDays(-1)) != nil {
		t.Error("expected nil range when to is before from")
	}
	if len(DateRange(d, d)) != 1 {
		t.Error("expected single-day range")
	}
}

func TestDateOf_Zone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

	if got := DateOf(ts, ny).String(); got != "2025-05-31" {
		t.Errorf("DateOf in New York = %s, want 2025-05-31", got)
	}
	if got := DateOf(ts, nil).String(); got != "2025-06-01" {
		t.Errorf("DateOf with nil location = %s, want 2025-06-01", got)
	}
}

func TestDate_JSON(t *testing.T) {
	in := struct {
		D Date `json:"d"`
	}{D: Date{Year: 2025, Month: time.January, Day: 5}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"d":"2025-01-05"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var out struct {
		D Date `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"d":"not-a-date"}`), &out); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestEventTime_LocalDate(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name string
		et   EventTime
		want string
		ok   bool
	}{
		{"timed converts zone", EventTime{DateTime: "2025-03-11T20:00:00Z"}, "2025-03-12", true},
		{"all-day literal", EventTime{Date: "2025-03-11"}, "2025-03-11", true},
		{"date-time wins over date", EventTime{DateTime: "2025-03-11T00:00:00+09:00", Date: "2025-01-01"}, "2025-03-11", true},
		{"malformed date-time falls back to date", EventTime{DateTime: "garbage", Date: "2025-03-10"}, "2025-03-10", true},
		{"empty", EventTime{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tt.et.LocalDate(seoul)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && d.String() != tt.want {
				t.Errorf("LocalDate = %s, want %s", d, tt.want)
			}
		})
	}
}

func TestOccurrence_ToCalendarEvent(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	timed := Occurrence{
		SourceID:  "work",
		UID:       "uid-1",
		Recurring: true,
		Summary:   "Standup",
		Attendees: []Attendee{{Email: "a@example.com", ResponseStatus: "accepted"}},
		Start:     time.Date(2025, 3, 12, 9, 0, 0, 0, seoul),
		End:       time.Date(2025, 3, 12, 9, 15, 0, 0, seoul),
	}
	ev := timed.ToCalendarEvent()
	if ev.Start.DateTime != "2025-03-12T09:00:00+09:00" || ev.Start.Date != "" {
		t.Errorf("unexpected start %+v", ev.Start)
	}
	if ev.ID != "uid-1_20250312T000000Z" || ev.RecurringEventID != "uid-1" {
		t.Errorf("unexpected ids %q / %q", ev.ID, ev.RecurringEventID)
	}
	if ev.Source != "work" || len(ev.Attendees) != 1 {
		t.Errorf("source/attendees not carried over: %+v", ev)
	}

	day := Occurrence{
		UID:    "uid-2",
		AllDay: true,
		Start:  time.Date(2025, 3, 12, 0, 0, 0, 0, seoul),
		End:    time.Date(2025, 3, 13, 0, 0, 0, 0, seoul),
	}
	ev = day.ToCalendarEvent()
	if ev.Start.Date != "2025-03-12" || ev.End.Date != "2025-03-13" || ev.Start.DateTime != "" {
		t.Errorf("unexpected all-day endpoints %+v / %+v", ev.Start, ev.End)
	}
	if ev.ID != "uid-2" || ev.RecurringEventID != "" {
		t.Errorf("unexpected ids for single event: %q / %q", ev.ID, ev.RecurringEventID)
	}
}
