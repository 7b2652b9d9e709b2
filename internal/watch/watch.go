// Package watch streams a session's event log to a writer as new events are
// appended, and provides polling helpers for agents waiting on specific
// coordination events.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rookery-dev/rookery/pkg/eventlog"
)

// OutputFormat controls how streamed events are rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders human-readable lines with timestamps.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON renders line-delimited JSON for programmatic use.
	OutputFormatJSON OutputFormat = "json"
)

// DefaultPollInterval is how often the log is re-read while streaming.
const DefaultPollInterval = 500 * time.Millisecond

// StreamActivity tails a session's event log, writing each event to w as it
// appears. Already-appended events are printed first, then the log is polled
// until ctx is cancelled. The log is append-only, so new events are exactly
// the records past the last count seen.
func StreamActivity(ctx context.Context, log *eventlog.Log, sessionID string, format OutputFormat, w io.Writer) error {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	seen := 0
	for {
		events, err := log.QueryEvents(ctx, sessionID, eventlog.Filter{})
		if err != nil {
			return fmt.Errorf("failed to read event log: %w", err)
		}
		for _, e := range events[seen:] {
			if err := writeEvent(w, &e, format); err != nil {
				return err
			}
		}
		seen = len(events)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForEvent polls a session's log until an event of the given type exists
// (optionally scoped to a task), returning it. Polls every 200ms until the
// timeout elapses.
func WaitForEvent(ctx context.Context, log *eventlog.Log, sessionID string, eventType eventlog.Type, taskID string, timeout time.Duration) (*eventlog.Event, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for %s event after %v", eventType, timeout)

		case <-ticker.C:
			events, err := log.QueryEvents(ctx, sessionID, eventlog.Filter{
				Types:  []eventlog.Type{eventType},
				TaskID: taskID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to query event log: %w", err)
			}
			if len(events) > 0 {
				return &events[0], nil
			}
		}
	}
}

func writeEvent(w io.Writer, e *eventlog.Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n", FormatEvent(e))
	return err
}

// FormatEvent renders one event as a human-readable line.
func FormatEvent(e *eventlog.Event) string {
	ts := time.UnixMilli(e.TimestampMs).UTC().Format("15:04:05")

	switch e.Type {
	case eventlog.TypeSessionCreated:
		return fmt.Sprintf("[%s] 🆕 Session Created: by=%s", ts, e.AgentID)
	case eventlog.TypeAgentJoinedSession:
		return fmt.Sprintf("[%s] 👋 Agent Joined: %s", ts, e.AgentID)
	case eventlog.TypeAgentClaimedTask:
		return fmt.Sprintf("[%s] 🔒 Task Claimed: by=%s task=%s", ts, e.AgentID, e.TaskID)
	case eventlog.TypeAgentCompletedTask:
		return fmt.Sprintf("[%s] ✅ Task Completed: by=%s task=%s", ts, e.AgentID, e.TaskID)
	case eventlog.TypeAgentPostedFinding:
		return fmt.Sprintf("[%s] 📋 Finding Posted: by=%s finding=%s", ts, e.AgentID, e.TaskID)
	case eventlog.TypeAgentValidatedFinding:
		return fmt.Sprintf("[%s] 👍 Finding Validated: by=%s finding=%s", ts, e.AgentID, e.TaskID)
	case eventlog.TypeAgentChallengedFinding:
		return fmt.Sprintf("[%s] ⚠️ Finding Challenged: by=%s finding=%s", ts, e.AgentID, e.TaskID)
	case eventlog.TypeConsensusReached:
		return fmt.Sprintf("[%s] 🤝 Consensus Reached: task=%s", ts, e.TaskID)
	case eventlog.TypeDisagreementRecorded:
		return fmt.Sprintf("[%s] ⚡ Disagreement Recorded: task=%s", ts, e.TaskID)
	default:
		return fmt.Sprintf("[%s] %s: agent=%s task=%s", ts, e.Type, e.AgentID, e.TaskID)
	}
}
