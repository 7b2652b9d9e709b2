package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ErrTaskNotFound indicates no completion event exists for the task.
var ErrTaskNotFound = errors.New("eventlog: no completion event for task")

// TrailEntry is one step in a reconstructed evidence trail: either a raw tool
// output or one discrete reasoning step.
type TrailEntry struct {
	Kind    string `json:"kind"`   // "tool_output" or "reasoning"
	Source  string `json:"source"` // tool name, or "step N" for reasoning
	Content string `json:"content"`
}

// Judgment is one peer's recorded verdict on a task, normalized so the chain
// shape is identical whether it was rebuilt from the log or from the session
// store fallback.
type Judgment struct {
	Agent       string  `json:"agent"`
	Status      string  `json:"status"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// EvidenceChain is the reconstructed causal trail from raw tool output and
// reasoning steps to a stated conclusion, plus the peer judgments around it.
type EvidenceChain struct {
	TaskID      string       `json:"task_id"`
	Agent       string       `json:"agent"`
	Conclusion  string       `json:"conclusion"`
	Confidence  float64      `json:"confidence"`
	Trail       []TrailEntry `json:"trail"`
	Validations []Judgment   `json:"validations"`
	Challenges  []Judgment   `json:"challenges"`
}

// BuildTrail expands tool outputs and a reasoning trace into the canonical
// evidence trail: tool outputs first (sorted by tool name for a deterministic
// order), then the reasoning trace split into discrete non-empty steps.
//
// This function is the single source of truth for trail shape: the query
// layer's session-store fallback calls it with the same inputs, which is what
// makes the two paths byte-for-byte equivalent.
func BuildTrail(toolOutputs map[string]string, reasoningTrace string) []TrailEntry {
	var trail []TrailEntry

	tools := make([]string, 0, len(toolOutputs))
	for tool := range toolOutputs {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		trail = append(trail, TrailEntry{Kind: "tool_output", Source: tool, Content: toolOutputs[tool]})
	}

	step := 0
	for _, line := range strings.Split(reasoningTrace, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		step++
		trail = append(trail, TrailEntry{Kind: "reasoning", Source: fmt.Sprintf("step %d", step), Content: line})
	}

	return trail
}

// GetEvidenceChain reconstructs the evidence chain for one task from the
// session's log: the AgentCompletedTask event supplies the conclusion and
// trail, and every validation/challenge event referencing the task is
// appended. Fails with ErrTaskNotFound if no completion event exists.
func (l *Log) GetEvidenceChain(ctx context.Context, sessionID, taskID string) (*EvidenceChain, error) {
	events, err := l.QueryEvents(ctx, sessionID, Filter{TaskID: taskID})
	if err != nil {
		return nil, err
	}

	var chain *EvidenceChain
	for i := range events {
		if events[i].Type != TypeAgentCompletedTask {
			continue
		}

		var payload CompletedTaskPayload
		if err := events[i].DecodePayload(&payload); err != nil {
			return nil, err
		}

		chain = &EvidenceChain{
			TaskID:     taskID,
			Agent:      events[i].AgentID,
			Conclusion: payload.Conclusion,
			Confidence: payload.Confidence,
			Trail:      BuildTrail(payload.Evidence.ToolOutputs, payload.ReasoningTrace),
		}
		break
	}
	if chain == nil {
		return nil, ErrTaskNotFound
	}

	for i := range events {
		event := &events[i]
		if event.Type != TypeAgentValidatedFinding && event.Type != TypeAgentChallengedFinding {
			continue
		}

		var payload ValidationPayload
		if err := event.DecodePayload(&payload); err != nil {
			log.Printf("[EventLog] WARN: skipping undecodable judgment event %s: %v", event.EventID, err)
			continue
		}

		judgment := Judgment{
			Agent:       event.AgentID,
			Status:      payload.Status,
			Reasoning:   payload.Reasoning,
			Confidence:  payload.Confidence,
			TimestampMs: event.TimestampMs,
		}
		if event.Type == TypeAgentValidatedFinding {
			chain.Validations = append(chain.Validations, judgment)
		} else {
			chain.Challenges = append(chain.Challenges, judgment)
		}
	}

	return chain, nil
}

// ConsensusState is the log-level aggregate over all completion, validation,
// and challenge events in one session's log.
//
// Its "validated" notion is intentionally stricter than the session store's
// per-finding classification: a finding counts as validated only with at
// least two validations, or a single validation with confidence >= 0.8. Both
// views are legitimate and independently tested.
type ConsensusState struct {
	TotalFindings int     `json:"total_findings"`
	Validated     int     `json:"validated"`
	Challenged    int     `json:"challenged"`
	Disputed      int     `json:"disputed"`
	UnderReview   int     `json:"under_review"`
	ConsensusRate float64 `json:"consensus_rate"`
}

// validatedConfidenceBar is the single-validation confidence threshold for
// the log-level validated count.
const validatedConfidenceBar = 0.8

// GetConsensusState aggregates consensus across every task with a completion
// event in the session's log.
func (l *Log) GetConsensusState(ctx context.Context, sessionID string) (*ConsensusState, error) {
	events, err := l.QueryEvents(ctx, sessionID, Filter{})
	if err != nil {
		return nil, err
	}

	type tally struct {
		completed     bool
		validations   int
		maxConfidence float64
		challenges    int
	}
	tasks := map[string]*tally{}
	taskOf := func(id string) *tally {
		t, ok := tasks[id]
		if !ok {
			t = &tally{}
			tasks[id] = t
		}
		return t
	}

	for i := range events {
		event := &events[i]
		if event.TaskID == "" {
			continue
		}
		switch event.Type {
		case TypeAgentCompletedTask:
			taskOf(event.TaskID).completed = true
		case TypeAgentValidatedFinding:
			t := taskOf(event.TaskID)
			t.validations++
			var payload ValidationPayload
			if err := event.DecodePayload(&payload); err == nil && payload.Confidence > t.maxConfidence {
				t.maxConfidence = payload.Confidence
			}
		case TypeAgentChallengedFinding:
			taskOf(event.TaskID).challenges++
		}
	}

	state := &ConsensusState{}
	for _, t := range tasks {
		if !t.completed {
			continue
		}
		state.TotalFindings++
		switch {
		case t.validations > 0 && t.challenges > 0:
			state.Disputed++
		case t.challenges > 0:
			state.Challenged++
		case t.validations >= 2 || t.maxConfidence >= validatedConfidenceBar:
			state.Validated++
		default:
			state.UnderReview++
		}
	}

	if state.TotalFindings > 0 {
		state.ConsensusRate = float64(state.Validated) / float64(state.TotalFindings)
	}
	return state, nil
}
