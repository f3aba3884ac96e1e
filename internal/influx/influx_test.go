package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"workpattern/internal/config"
	"workpattern/internal/model"
)

func sampleDays() []model.DailyMetrics {
	return []model.DailyMetrics{
		{Date: model.Date{Year: 2025, Month: time.March, Day: 10}, MeetingCount: 2, TotalMeetingMinutes: 90},
		{Date: model.Date{Year: 2025, Month: time.March, Day: 11}},
	}
}

func TestPoints(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	points := Points("u1", sampleDays(), loc)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}

	p := points[0]
	if p.Name() != Measurement {
		t.Errorf("Name = %q, want %q", p.Name(), Measurement)
	}
	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "user_id" || tags[0].Value != "u1" {
		t.Errorf("unexpected tags %+v", tags)
	}
	want := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	if !p.Time().Equal(want) {
		t.Errorf("Time = %s, want %s", p.Time(), want)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if len(fields) != 13 {
		t.Errorf("expected 13 fields, got %d", len(fields))
	}
	if fields["meeting_count"] != int64(2) || fields["total_meeting_minutes"] != int64(90) {
		t.Errorf("unexpected field values %v", fields)
	}
}

func TestSink_WriteDays(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"name":"influxdb","status":"pass","message":"ready for queries and writes","checks":[]}`)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			query = r.URL.RawQuery
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	sink, err := New(ctx, &config.InfluxConfig{URL: srv.URL, Token: "tok", Org: "acme", Bucket: "work"}, time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sink.Close)

	if err := sink.WriteDays(ctx, "u1", sampleDays()); err != nil {
		t.Fatalf("WriteDays: %v", err)
	}
	if err := sink.WriteDays(ctx, "u1", nil); err != nil {
		t.Fatalf("WriteDays empty: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected a single write request, got %d", len(bodies))
	}
	if !strings.Contains(query, "org=acme") || !strings.Contains(query, "bucket=work") {
		t.Errorf("unexpected write query %q", query)
	}
	lines := strings.Split(strings.TrimSpace(bodies[0]), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), bodies[0])
	}
	if !strings.HasPrefix(lines[0], Measurement+",user_id=u1 ") || !strings.Contains(lines[0], "meeting_count=2i") {
		t.Errorf("unexpected line %q", lines[0])
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(context.Background(), &config.InfluxConfig{URL: "http://localhost:8086"}, nil); err == nil {
		t.Error("expected error for incomplete config")
	}
}
