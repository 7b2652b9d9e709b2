package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFileLog(t *testing.T) *Log {
	t.Helper()
	appender, err := NewFileAppender(t.TempDir())
	require.NoError(t, err)
	return NewLog(appender)
}

func TestBuildTrail(t *testing.T) {
	t.Run("tool outputs sorted by name, then reasoning steps", func(t *testing.T) {
		trail := BuildTrail(
			map[string]string{"uniprot": "P56817 lookup", "pubmed": "12 abstracts"},
			"searched pubmed\n\n  compared assay conditions  \nconcluded pH dependence",
		)

		require.Len(t, trail, 5)
		assert.Equal(t, TrailEntry{Kind: "tool_output", Source: "pubmed", Content: "12 abstracts"}, trail[0])
		assert.Equal(t, TrailEntry{Kind: "tool_output", Source: "uniprot", Content: "P56817 lookup"}, trail[1])
		assert.Equal(t, TrailEntry{Kind: "reasoning", Source: "step 1", Content: "searched pubmed"}, trail[2])
		assert.Equal(t, TrailEntry{Kind: "reasoning", Source: "step 2", Content: "compared assay conditions"}, trail[3])
		assert.Equal(t, TrailEntry{Kind: "reasoning", Source: "step 3", Content: "concluded pH dependence"}, trail[4])
	})

	t.Run("empty inputs yield empty trail", func(t *testing.T) {
		assert.Empty(t, BuildTrail(nil, ""))
	})
}

func TestGetEvidenceChain(t *testing.T) {
	l := setupFileLog(t)
	ctx := context.Background()
	const sessionID = "session-1"

	_, err := l.LogEvent(ctx, sessionID, TypeAgentCompletedTask, "agent-a", "task-1", &CompletedTaskPayload{
		Conclusion:     "BACE1 cleavage is pH dependent",
		Evidence:       EvidenceRef{ToolOutputs: map[string]string{"pubmed": "12 abstracts"}},
		ReasoningTrace: "searched pubmed\ncompared conditions",
		Confidence:     0.85,
	})
	require.NoError(t, err)

	_, err = l.LogEvent(ctx, sessionID, TypeAgentValidatedFinding, "agent-b", "task-1", &ValidationPayload{
		Status: "confirmed", Confidence: 0.8,
	})
	require.NoError(t, err)

	_, err = l.LogEvent(ctx, sessionID, TypeAgentChallengedFinding, "agent-c", "task-1", &ValidationPayload{
		Status: "challenged", Reasoning: "wrong pH", Confidence: 0.7,
	})
	require.NoError(t, err)

	// Noise for a different task must not leak into the chain.
	_, err = l.LogEvent(ctx, sessionID, TypeAgentCompletedTask, "agent-d", "task-2", &CompletedTaskPayload{Conclusion: "other"})
	require.NoError(t, err)

	t.Run("chain carries conclusion, trail, and judgments", func(t *testing.T) {
		chain, err := l.GetEvidenceChain(ctx, sessionID, "task-1")
		require.NoError(t, err)

		assert.Equal(t, "agent-a", chain.Agent)
		assert.Equal(t, "BACE1 cleavage is pH dependent", chain.Conclusion)
		assert.Equal(t, 0.85, chain.Confidence)
		require.Len(t, chain.Trail, 3)
		assert.Equal(t, "tool_output", chain.Trail[0].Kind)
		assert.Equal(t, "reasoning", chain.Trail[1].Kind)
		require.Len(t, chain.Validations, 1)
		assert.Equal(t, "agent-b", chain.Validations[0].Agent)
		assert.Equal(t, "confirmed", chain.Validations[0].Status)
		require.Len(t, chain.Challenges, 1)
		assert.Equal(t, "agent-c", chain.Challenges[0].Agent)
		assert.Equal(t, "wrong pH", chain.Challenges[0].Reasoning)
	})

	t.Run("missing completion event reports not found", func(t *testing.T) {
		_, err := l.GetEvidenceChain(ctx, sessionID, "task-unknown")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestGetConsensusState(t *testing.T) {
	l := setupFileLog(t)
	ctx := context.Background()
	const sessionID = "session-1"

	complete := func(task string) {
		t.Helper()
		_, err := l.LogEvent(ctx, sessionID, TypeAgentCompletedTask, "author", task, &CompletedTaskPayload{Conclusion: task})
		require.NoError(t, err)
	}
	validate := func(task string, confidence float64) {
		t.Helper()
		_, err := l.LogEvent(ctx, sessionID, TypeAgentValidatedFinding, "peer", task, &ValidationPayload{Status: "confirmed", Confidence: confidence})
		require.NoError(t, err)
	}
	challenge := func(task string) {
		t.Helper()
		_, err := l.LogEvent(ctx, sessionID, TypeAgentChallengedFinding, "peer", task, &ValidationPayload{Status: "challenged", Confidence: 0.5})
		require.NoError(t, err)
	}

	// task-a: two low-confidence validations -> validated (count rule).
	complete("task-a")
	validate("task-a", 0.5)
	validate("task-a", 0.6)

	// task-b: one high-confidence validation -> validated (confidence rule).
	complete("task-b")
	validate("task-b", 0.9)

	// task-c: one low-confidence validation -> still under review.
	complete("task-c")
	validate("task-c", 0.5)

	// task-d: challenged only.
	complete("task-d")
	challenge("task-d")

	// task-e: validated and challenged -> disputed.
	complete("task-e")
	validate("task-e", 0.95)
	challenge("task-e")

	// task-f: completed, no judgments.
	complete("task-f")

	state, err := l.GetConsensusState(ctx, sessionID)
	require.NoError(t, err)

	assert.Equal(t, 6, state.TotalFindings)
	assert.Equal(t, 2, state.Validated)
	assert.Equal(t, 1, state.Challenged)
	assert.Equal(t, 1, state.Disputed)
	assert.Equal(t, 2, state.UnderReview)
	assert.InDelta(t, 2.0/6.0, state.ConsensusRate, 1e-9)
}

func TestGetConsensusStateEmptyLog(t *testing.T) {
	l := setupFileLog(t)

	state, err := l.GetConsensusState(context.Background(), "session-empty")
	require.NoError(t, err)
	assert.Zero(t, state.TotalFindings)
	assert.Zero(t, state.ConsensusRate)
}
