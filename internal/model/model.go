package model

import "time"

// CalendarEvent is a single calendar entry in the shape returned by the
// Google Calendar v3 API. Events from other sources (ICS, JSON exports) are
// converted into this shape before aggregation.
type CalendarEvent struct {
	ID      string `json:"id" bson:"id"`
	Summary string `json:"summary,omitempty" bson:"summary,omitempty"`

	Start EventTime `json:"start" bson:"start"`
	End   EventTime `json:"end" bson:"end"`

	Attendees []Attendee `json:"attendees,omitempty" bson:"attendees,omitempty"`
	Organizer *Organizer `json:"organizer,omitempty" bson:"organizer,omitempty"`

	RecurringEventID string `json:"recurringEventId,omitempty" bson:"recurringEventId,omitempty"`
	Location         string `json:"location,omitempty" bson:"location,omitempty"`
	Status           string `json:"status,omitempty" bson:"status,omitempty"`

	// Source is the configured source ID that produced the event. It is not
	// part of the provider payload.
	Source string `json:"source,omitempty" bson:"source,omitempty"`
}

// EventTime is one endpoint of an event. Exactly one of DateTime (RFC 3339
// instant) or Date (YYYY-MM-DD, all-day) is expected to be set.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty" bson:"dateTime,omitempty"`
	Date     string `json:"date,omitempty" bson:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty" bson:"timeZone,omitempty"`
}

// Instant parses DateTime. ok is false when DateTime is empty or malformed.
func (t EventTime) Instant() (time.Time, bool) {
	if t.DateTime == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// LocalDate returns the calendar date of this endpoint as seen from loc.
// Timed endpoints are converted into loc first; all-day endpoints use their
// literal date.
func (t EventTime) LocalDate(loc *time.Location) (Date, bool) {
	if ts, ok := t.Instant(); ok {
		return DateOf(ts, loc), true
	}
	if t.Date != "" {
		d, err := ParseDate(t.Date)
		if err != nil {
			return Date{}, false
		}
		return d, true
	}
	return Date{}, false
}

// Attendee is an invited participant.
type Attendee struct {
	Email          string `json:"email" bson:"email"`
	ResponseStatus string `json:"responseStatus,omitempty" bson:"responseStatus,omitempty"`
}

// Organizer is the owner of an event.
type Organizer struct {
	Email string `json:"email" bson:"email"`
	Self  bool   `json:"self,omitempty" bson:"self,omitempty"`
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string
	Recurring   bool

	Summary  string
	Location string
	Status   string

	Attendees []Attendee
	Organizer *Organizer

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// ToCalendarEvent converts an occurrence into the provider-neutral event
// shape. All-day occurrences use Date, timed ones use RFC 3339 DateTime.
func (o Occurrence) ToCalendarEvent() CalendarEvent {
	ev := CalendarEvent{
		ID:        o.UID,
		Summary:   o.Summary,
		Location:  o.Location,
		Status:    o.Status,
		Attendees: o.Attendees,
		Organizer: o.Organizer,
		Source:    o.SourceID,
	}
	if o.Recurring {
		ev.ID = o.UID + "_" + o.Start.UTC().Format("20060102T150405Z")
		ev.RecurringEventID = o.UID
	}

	tz := o.Start.Location().String()
	if o.AllDay {
		ev.Start = EventTime{Date: DateOf(o.Start, o.Start.Location()).String()}
		ev.End = EventTime{Date: DateOf(o.End, o.End.Location()).String()}
		return ev
	}
	ev.Start = EventTime{DateTime: o.Start.Format(time.RFC3339), TimeZone: tz}
	ev.End = EventTime{DateTime: o.End.Format(time.RFC3339), TimeZone: tz}
	return ev
}
