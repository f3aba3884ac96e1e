package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workpattern/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres stores metrics in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

const upsertMetricsSQL = `
	INSERT INTO calendar_daily_metrics (
		user_id, date,
		total_meeting_minutes, meeting_count, longest_meeting_minutes,
		back_to_back_meetings, overlapping_meetings,
		focus_blocks_count, longest_focus_block_minutes, fragmented_time_minutes,
		first_event_time, last_event_time,
		work_duration_minutes, after_hours_minutes,
		one_on_one_count, team_meeting_count, external_meeting_count,
		raw_events, updated_at
	) VALUES (
		$1, $2,
		$3, $4, $5,
		$6, $7,
		$8, $9, $10,
		NULLIF($11::text, '')::time, NULLIF($12::text, '')::time,
		$13, $14,
		$15, $16, $17,
		$18, NOW()
	)
	ON CONFLICT (user_id, date) DO UPDATE SET
		total_meeting_minutes       = EXCLUDED.total_meeting_minutes,
		meeting_count               = EXCLUDED.meeting_count,
		longest_meeting_minutes     = EXCLUDED.longest_meeting_minutes,
		back_to_back_meetings       = EXCLUDED.back_to_back_meetings,
		overlapping_meetings        = EXCLUDED.overlapping_meetings,
		focus_blocks_count          = EXCLUDED.focus_blocks_count,
		longest_focus_block_minutes = EXCLUDED.longest_focus_block_minutes,
		fragmented_time_minutes     = EXCLUDED.fragmented_time_minutes,
		first_event_time            = EXCLUDED.first_event_time,
		last_event_time             = EXCLUDED.last_event_time,
		work_duration_minutes       = EXCLUDED.work_duration_minutes,
		after_hours_minutes         = EXCLUDED.after_hours_minutes,
		one_on_one_count            = EXCLUDED.one_on_one_count,
		team_meeting_count          = EXCLUDED.team_meeting_count,
		external_meeting_count      = EXCLUDED.external_meeting_count,
		raw_events                  = EXCLUDED.raw_events,
		updated_at                  = NOW()
`

func (p *Postgres) UpsertDailyMetrics(ctx context.Context, userID string, days []model.DailyMetrics) error {
	if len(days) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range days {
		raw, err := json.Marshal(d.RawEvents)
		if err != nil {
			return fmt.Errorf("encode raw events for %s: %w", d.Date, err)
		}
		batch.Queue(upsertMetricsSQL,
			userID, dateParam(d.Date),
			d.TotalMeetingMinutes, d.MeetingCount, d.LongestMeetingMinutes,
			d.BackToBackMeetings, d.OverlappingMeetings,
			d.FocusBlocksCount, d.LongestFocusBlockMinutes, d.FragmentedTimeMinutes,
			d.FirstEventTime, d.LastEventTime,
			d.WorkDurationMinutes, d.AfterHoursMinutes,
			d.OneOnOneCount, d.TeamMeetingCount, d.ExternalMeetingCount,
			raw,
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, d := range days {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert daily metrics %s: %w", d.Date, err)
		}
	}
	return nil
}

func (p *Postgres) ListDailyMetrics(ctx context.Context, userID string, from, to model.Date) ([]model.DailyMetrics, error) {
	query := `
		SELECT date,
			total_meeting_minutes, meeting_count, longest_meeting_minutes,
			back_to_back_meetings, overlapping_meetings,
			focus_blocks_count, longest_focus_block_minutes, fragmented_time_minutes,
			COALESCE(to_char(first_event_time, 'HH24:MI:SS'), ''),
			COALESCE(to_char(last_event_time, 'HH24:MI:SS'), ''),
			work_duration_minutes, after_hours_minutes,
			one_on_one_count, team_meeting_count, external_meeting_count,
			raw_events
		FROM calendar_daily_metrics
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`

	rows, err := p.pool.Query(ctx, query, userID, dateParam(from), dateParam(to))
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer rows.Close()

	out := make([]model.DailyMetrics, 0)
	for rows.Next() {
		var (
			d    model.DailyMetrics
			date time.Time
			raw  []byte
		)
		if err := rows.Scan(
			&date,
			&d.TotalMeetingMinutes, &d.MeetingCount, &d.LongestMeetingMinutes,
			&d.BackToBackMeetings, &d.OverlappingMeetings,
			&d.FocusBlocksCount, &d.LongestFocusBlockMinutes, &d.FragmentedTimeMinutes,
			&d.FirstEventTime, &d.LastEventTime,
			&d.WorkDurationMinutes, &d.AfterHoursMinutes,
			&d.OneOnOneCount, &d.TeamMeetingCount, &d.ExternalMeetingCount,
			&raw,
		); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		d.Date = model.DateOf(date, time.UTC)
		d.RawEvents = []model.CalendarEvent{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d.RawEvents); err != nil {
				return nil, fmt.Errorf("decode raw events for %s: %w", d.Date, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily metrics: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateSyncStatus(ctx context.Context, st model.SyncStatus) error {
	query := `
		INSERT INTO integration_status (user_id, source, state, message, events, synced_at, last_success_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $3 = 'connected' THEN $6::timestamptz END)
		ON CONFLICT (user_id, source) DO UPDATE SET
			state           = EXCLUDED.state,
			message         = EXCLUDED.message,
			events          = EXCLUDED.events,
			synced_at       = EXCLUDED.synced_at,
			last_success_at = COALESCE(EXCLUDED.last_success_at, integration_status.last_success_at)
	`

	_, err := p.pool.Exec(ctx, query,
		st.UserID, st.Source, string(st.State), st.Message, st.Events, st.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("update sync status %s/%s: %w", st.UserID, st.Source, err)
	}
	return nil
}

func (p *Postgres) ListSyncStatus(ctx context.Context, userID string) ([]model.SyncStatus, error) {
	query := `
		SELECT user_id, source, state, message, events, synced_at, last_success_at
		FROM integration_status
		WHERE user_id = $1
		ORDER BY source
	`

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sync status: %w", err)
	}
	defer rows.Close()

	out := make([]model.SyncStatus, 0)
	for rows.Next() {
		var (
			st          model.SyncStatus
			state       string
			lastSuccess *time.Time
		)
		if err := rows.Scan(&st.UserID, &st.Source, &state, &st.Message, &st.Events, &st.SyncedAt, &lastSuccess); err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		st.State = model.SyncState(state)
		if lastSuccess != nil {
			st.LastSuccessAt = *lastSuccess
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync status: %w", err)
	}
	return out, nil
}

// dateParam encodes a calendar date for a DATE column.
func dateParam(d model.Date) time.Time {
	return d.Start(time.UTC)
}
