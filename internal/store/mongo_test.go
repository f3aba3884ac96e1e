package store

import (
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"workpattern/internal/model"
	"workpattern/internal/testutil"
)

func TestMetricsDoc_FieldNames(t *testing.T) {
	t.Parallel()

	day := testutil.MustDate(t, "2025-03-10")
	in := model.DailyMetrics{
		Date:                day,
		TotalMeetingMinutes: 90,
		MeetingCount:        2,
		FirstEventTime:      "09:00:00",
		OneOnOneCount:       1,
		RawEvents: []model.CalendarEvent{{
			ID:        "e1",
			Start:     model.EventTime{DateTime: "2025-03-10T09:00:00+09:00"},
			End:       model.EventTime{DateTime: "2025-03-10T10:00:00+09:00"},
			Attendees: []model.Attendee{{Email: "a@example.com", ResponseStatus: "accepted"}},
		}},
	}

	data, err := bson.Marshal(newMetricsDoc("u1", in, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := bson.Raw(data)

	present := []string{
		"user_id",
		"date",
		"updated_at",
		"metrics.total_meeting_minutes",
		"metrics.meeting_count",
		"metrics.first_event_time",
		"metrics.one_on_one_count",
		"raw_events.0.id",
		"raw_events.0.start.dateTime",
		"raw_events.0.attendees.0.responseStatus",
	}
	for _, key := range present {
		if _, err := raw.LookupErr(strings.Split(key, ".")...); err != nil {
			t.Errorf("expected key %q: %v", key, err)
		}
	}

	absent := []string{
		"metrics.date",
		"metrics.raw_events",
		"metrics.totalmeetingminutes",
		"metrics.TotalMeetingMinutes",
		"raw_events.0.start.datetime",
	}
	for _, key := range absent {
		if _, err := raw.LookupErr(strings.Split(key, ".")...); err == nil {
			t.Errorf("unexpected key %q", key)
		}
	}

	if v := raw.Lookup("date").StringValue(); v != "2025-03-10" {
		t.Errorf("date = %q", v)
	}

	var doc metricsDoc
	if err := bson.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out := doc.dailyMetrics()
	if out.Date != day || out.TotalMeetingMinutes != 90 || out.FirstEventTime != "09:00:00" {
		t.Errorf("unexpected round trip %+v", out)
	}
	if len(out.RawEvents) != 1 || out.RawEvents[0].Attendees[0].Email != "a@example.com" {
		t.Errorf("unexpected raw events %+v", out.RawEvents)
	}
}

func TestMetricsDoc_EmptyRawEvents(t *testing.T) {
	t.Parallel()

	out := metricsDoc{Date: "2025-03-10"}.dailyMetrics()
	if out.RawEvents == nil {
		t.Error("expected non-nil raw events")
	}
	if out.Date.String() != "2025-03-10" {
		t.Errorf("date = %q", out.Date.String())
	}
}
