package watch

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookery-dev/rookery/pkg/eventlog"
)

func setupLog(t *testing.T) *eventlog.Log {
	t.Helper()

	appender, err := eventlog.NewFileAppender(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { appender.Close() })

	return eventlog.NewLog(appender)
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    eventlog.Event
		expected string
	}{
		{
			name: "agent joined",
			event: eventlog.Event{
				Type:    eventlog.TypeAgentJoinedSession,
				AgentID: "agent-b",
			},
			expected: "👋 Agent Joined: agent-b",
		},
		{
			name: "task claimed",
			event: eventlog.Event{
				Type:    eventlog.TypeAgentClaimedTask,
				AgentID: "agent-a",
				TaskID:  "inv-structure",
			},
			expected: "🔒 Task Claimed: by=agent-a task=inv-structure",
		},
		{
			name: "finding challenged",
			event: eventlog.Event{
				Type:    eventlog.TypeAgentChallengedFinding,
				AgentID: "agent-c",
				TaskID:  "finding-1",
			},
			expected: "⚠️ Finding Challenged: by=agent-c finding=finding-1",
		},
		{
			name: "consensus reached",
			event: eventlog.Event{
				Type:   eventlog.TypeConsensusReached,
				TaskID: "finding-1",
			},
			expected: "🤝 Consensus Reached: task=finding-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := FormatEvent(&tt.event)
			assert.Contains(t, line, tt.expected)
		})
	}
}

func TestStreamActivity(t *testing.T) {
	log := setupLog(t)
	ctx := context.Background()
	sessionID := "session-1"

	_, err := log.LogEvent(ctx, sessionID, eventlog.TypeSessionCreated, "agent-a", "", nil)
	require.NoError(t, err)
	_, err = log.LogEvent(ctx, sessionID, eventlog.TypeAgentJoinedSession, "agent-b", "", nil)
	require.NoError(t, err)

	streamCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err = StreamActivity(streamCtx, log, sessionID, OutputFormatDefault, &buf)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Session Created")
	assert.Contains(t, lines[1], "Agent Joined")
}

func TestStreamActivityJSON(t *testing.T) {
	log := setupLog(t)
	ctx := context.Background()
	sessionID := "session-1"

	_, err := log.LogEvent(ctx, sessionID, eventlog.TypeAgentPostedFinding, "agent-a", "finding-1", nil)
	require.NoError(t, err)

	streamCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err = StreamActivity(streamCtx, log, sessionID, OutputFormatJSON, &buf)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, buf.String(), `"event_type":"AgentPostedFinding"`)
}

func TestWaitForEvent(t *testing.T) {
	log := setupLog(t)
	ctx := context.Background()
	sessionID := "session-1"

	t.Run("returns existing event immediately", func(t *testing.T) {
		_, err := log.LogEvent(ctx, sessionID, eventlog.TypeAgentCompletedTask, "agent-a", "inv-structure", nil)
		require.NoError(t, err)

		event, err := WaitForEvent(ctx, log, sessionID, eventlog.TypeAgentCompletedTask, "inv-structure", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "agent-a", event.AgentID)
	})

	t.Run("sees event appended while waiting", func(t *testing.T) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = log.LogEvent(ctx, sessionID, eventlog.TypeConsensusReached, "", "finding-9", nil)
		}()

		event, err := WaitForEvent(ctx, log, sessionID, eventlog.TypeConsensusReached, "finding-9", 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "finding-9", event.TaskID)
	})

	t.Run("times out when event never arrives", func(t *testing.T) {
		_, err := WaitForEvent(ctx, log, sessionID, eventlog.TypeDisagreementRecorded, "", 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting")
	})
}
