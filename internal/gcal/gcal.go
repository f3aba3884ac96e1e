// Package gcal reads events from the Google Calendar v3 API.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"workpattern/internal/config"
	appLog "workpattern/internal/log"
	"workpattern/internal/model"
)

// SourceID is the source name Google events and status rows are stored
// under.
const SourceID = "google"

const pageSize = 1000

// Calendar lists the expanded instances of one Google calendar.
type Calendar struct {
	svc        *calendar.Service
	calendarID string
}

// NewFromConfig builds a Calendar authenticated with the configured refresh
// token. The access token is refreshed on demand.
func NewFromConfig(ctx context.Context, cfg *config.GoogleConfig) (*Calendar, error) {
	if !cfg.Enabled() {
		return nil, errors.New("google calendar is not configured")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}

	return New(ctx, cfg.CalendarID, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
}

// New builds a Calendar from explicit client options.
func New(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Calendar, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Calendar{svc: svc, calendarID: calendarID}, nil
}

func (c *Calendar) ID() string { return SourceID }

// Events lists single event instances overlapping [from, to), ordered by
// start time. Cancelled instances are dropped.
func (c *Calendar) Events(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	call := c.svc.Events.List(c.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize)

	events := make([]model.CalendarEvent, 0)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			events = append(events, Convert(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", c.calendarID, err)
	}

	appLog.Debug("google calendar listed", "calendar", c.calendarID, "events", len(events))
	return events, nil
}

// Convert maps an API event onto the internal event shape.
func Convert(item *calendar.Event) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:               item.Id,
		Summary:          item.Summary,
		Start:            convertTime(item.Start),
		End:              convertTime(item.End),
		RecurringEventID: item.RecurringEventId,
		Location:         item.Location,
		Status:           item.Status,
		Source:           SourceID,
	}
	// Resources such as rooms stay in the list: the attendee count includes
	// them.
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, model.Attendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
		})
	}
	if item.Organizer != nil {
		ev.Organizer = &model.Organizer{Email: item.Organizer.Email, Self: item.Organizer.Self}
	}
	return ev
}

func convertTime(t *calendar.EventDateTime) model.EventTime {
	if t == nil {
		return model.EventTime{}
	}
	return model.EventTime{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}
