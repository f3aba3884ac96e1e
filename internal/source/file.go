package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"workpattern/internal/model"
)

// File reads events from a JSON file on every call. The file holds either
// a Google Calendar events.list response ({"items": [...]}) or a bare
// array of events.
type File struct {
	Name string
	Path string
}

func (f *File) ID() string {
	if f.Name != "" {
		return f.Name
	}
	return "file"
}

func (f *File) Events(_ context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	events, err := DecodeEvents(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return Between(events, from, to), nil
}

// DecodeEvents decodes a JSON event payload in either supported shape.
func DecodeEvents(data []byte) ([]model.CalendarEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []model.CalendarEvent{}, nil
	}

	if data[0] == '[' {
		var events []model.CalendarEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var list struct {
		Items []model.CalendarEvent `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []model.CalendarEvent{}
	}
	return list.Items, nil
}
