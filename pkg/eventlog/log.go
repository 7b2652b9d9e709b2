package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Log wraps an Appender with the typed event API: appending audit records and
// scanning them back with filters. Logs are session-scoped and bounded by a
// single investigation's lifetime, so linear scans are acceptable.
type Log struct {
	appender Appender
}

// NewLog creates an event log over the given appender.
func NewLog(appender Appender) *Log {
	return &Log{appender: appender}
}

// Close closes the underlying appender.
func (l *Log) Close() error {
	return l.appender.Close()
}

// LogEvent appends one record to the session's log and returns the stored
// event. The payload is marshaled as-is; pass nil for events without detail.
func (l *Log) LogEvent(ctx context.Context, sessionID string, eventType Type, agentID, taskID string, payload any) (Event, error) {
	event := Event{
		EventID:     uuid.New().String(),
		TimestampMs: time.Now().UnixMilli(),
		Type:        eventType,
		SessionID:   sessionID,
		AgentID:     agentID,
		TaskID:      taskID,
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		event.Payload = raw
	}

	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}

	record, err := json.Marshal(&event)
	if err != nil {
		return Event{}, fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := l.appender.Append(ctx, sessionID, record); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Filter selects a subset of a session's events. Zero values mean "no
// constraint"; all set constraints are ANDed together.
type Filter struct {
	Types   []Type
	AgentID string
	TaskID  string
	SinceMs int64
	UntilMs int64
}

func (f *Filter) matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.SinceMs > 0 && e.TimestampMs < f.SinceMs {
		return false
	}
	if f.UntilMs > 0 && e.TimestampMs > f.UntilMs {
		return false
	}
	return true
}

// QueryEvents returns the session's events matching the filter, in append
// order. Malformed records are skipped with a warning and never abort the
// scan.
func (l *Log) QueryEvents(ctx context.Context, sessionID string, filter Filter) ([]Event, error) {
	records, err := l.appender.Read(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var events []Event
	for i, record := range records {
		var event Event
		if err := json.Unmarshal(record, &event); err != nil {
			log.Printf("[EventLog] WARN: skipping malformed record %d in session %s: %v", i, sessionID, err)
			continue
		}
		if filter.matches(&event) {
			events = append(events, event)
		}
	}
	return events, nil
}
