// Package influx writes daily metrics to InfluxDB 2 as a time series.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"workpattern/internal/config"
	appLog "workpattern/internal/log"
	"workpattern/internal/model"
)

// Measurement is the InfluxDB measurement daily metrics are written to.
const Measurement = "calendar_daily_metrics"

// Sink writes one point per (user, date).
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	loc      *time.Location
}

// New connects to InfluxDB and checks its health. Points are stamped at
// local midnight in loc (UTC when nil).
func New(ctx context.Context, cfg *config.InfluxConfig, loc *time.Location) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("influx sink is not configured")
	}
	if loc == nil {
		loc = time.UTC
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		appLog.Warn("influx health check not passing", "status", health.Status)
	}

	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		loc:      loc,
	}, nil
}

// WriteDays writes a point per day. Points for an existing (user, date)
// overwrite the previous values since tags and timestamp match.
func (s *Sink) WriteDays(ctx context.Context, userID string, days []model.DailyMetrics) error {
	if len(days) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, Points(userID, days, s.loc)...); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}

// Points converts daily metrics into line-protocol points.
func Points(userID string, days []model.DailyMetrics, loc *time.Location) []*write.Point {
	if loc == nil {
		loc = time.UTC
	}
	points := make([]*write.Point, 0, len(days))
	for _, d := range days {
		fields := map[string]interface{}{
			"total_meeting_minutes":       d.TotalMeetingMinutes,
			"meeting_count":               d.MeetingCount,
			"longest_meeting_minutes":     d.LongestMeetingMinutes,
			"back_to_back_meetings":       d.BackToBackMeetings,
			"overlapping_meetings":        d.OverlappingMeetings,
			"focus_blocks_count":          d.FocusBlocksCount,
			"longest_focus_block_minutes": d.LongestFocusBlockMinutes,
			"fragmented_time_minutes":     d.FragmentedTimeMinutes,
			"work_duration_minutes":       d.WorkDurationMinutes,
			"after_hours_minutes":         d.AfterHoursMinutes,
			"one_on_one_count":            d.OneOnOneCount,
			"team_meeting_count":          d.TeamMeetingCount,
			"external_meeting_count":      d.ExternalMeetingCount,
		}
		points = append(points, influxdb2.NewPoint(
			Measurement,
			map[string]string{"user_id": userID},
			fields,
			d.Date.Start(loc),
		))
	}
	return points
}
