package model

import "time"

// DailyMetrics is the per-(user, date) work-pattern summary derived from one
// day of calendar events. Minute-valued fields are whole minutes.
type DailyMetrics struct {
	Date Date `json:"date" bson:"-"`

	// Meeting load
	TotalMeetingMinutes   int `json:"total_meeting_minutes" bson:"total_meeting_minutes"`
	MeetingCount          int `json:"meeting_count" bson:"meeting_count"`
	LongestMeetingMinutes int `json:"longest_meeting_minutes" bson:"longest_meeting_minutes"`

	// Density
	BackToBackMeetings  int `json:"back_to_back_meetings" bson:"back_to_back_meetings"`
	OverlappingMeetings int `json:"overlapping_meetings" bson:"overlapping_meetings"`

	// Focus
	FocusBlocksCount         int `json:"focus_blocks_count" bson:"focus_blocks_count"`
	LongestFocusBlockMinutes int `json:"longest_focus_block_minutes" bson:"longest_focus_block_minutes"`
	FragmentedTimeMinutes    int `json:"fragmented_time_minutes" bson:"fragmented_time_minutes"`

	// Timing. FirstEventTime / LastEventTime are local "HH:MM:SS" and empty
	// when the day has no timed events.
	FirstEventTime      string `json:"first_event_time,omitempty" bson:"first_event_time"`
	LastEventTime       string `json:"last_event_time,omitempty" bson:"last_event_time"`
	WorkDurationMinutes int    `json:"work_duration_minutes" bson:"work_duration_minutes"`
	AfterHoursMinutes   int    `json:"after_hours_minutes" bson:"after_hours_minutes"`

	// Categorization
	OneOnOneCount        int `json:"one_on_one_count" bson:"one_on_one_count"`
	TeamMeetingCount     int `json:"team_meeting_count" bson:"team_meeting_count"`
	ExternalMeetingCount int `json:"external_meeting_count" bson:"external_meeting_count"`

	RawEvents []CalendarEvent `json:"raw_events" bson:"-"`
}

// SyncState is the status of a calendar integration after the last sync.
type SyncState string

const (
	SyncConnected SyncState = "connected"
	SyncError     SyncState = "error"
)

// SyncStatus records the outcome of the latest sync for one (user, source).
type SyncStatus struct {
	UserID   string    `json:"user_id"`
	Source   string    `json:"source"`
	State    SyncState `json:"state"`
	Message  string    `json:"message,omitempty"`
	Events   int       `json:"events"`
	SyncedAt time.Time `json:"synced_at"`
	// LastSuccessAt is zero until the source has synced successfully once.
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
}
