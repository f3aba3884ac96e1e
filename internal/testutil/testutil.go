package testutil

import (
	"fmt"
	"os"
	"testing"
	"time"

	"workpattern/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// UniqueID generates a unique ID for tests that share a database.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ============================================================================
// Test Data Factories
// ============================================================================

// Meeting builds a timed event between two RFC 3339 instants with the given
// attendee e-mails.
func Meeting(id, start, end string, attendees ...string) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:    id,
		Start: model.EventTime{DateTime: start},
		End:   model.EventTime{DateTime: end},
	}
	for _, email := range attendees {
		ev.Attendees = append(ev.Attendees, model.Attendee{Email: email, ResponseStatus: "accepted"})
	}
	return ev
}

// AllDay builds an all-day event covering [date, date+1).
func AllDay(id, date string) model.CalendarEvent {
	d, err := model.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return model.CalendarEvent{
		ID:    id,
		Start: model.EventTime{Date: d.String()},
		End:   model.EventTime{Date: d.AddDays(1).String()},
	}
}

// MustDate parses a YYYY-MM-DD date or fails the test.
func MustDate(t testing.TB, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}
