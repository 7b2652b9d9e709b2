// Package eventlog implements the append-only, session-scoped audit trail.
// Events are write-once, read-many: one JSON record per line, ordered by
// append position within a session's log. No cross-session ordering is
// guaranteed or required.
//
// The log is the transparency backbone: it reconstructs why a conclusion was
// reached (evidence chains) and what consensus exists around it, without ever
// consulting the live session documents.
package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type identifies the kind of coordination event a record describes.
type Type string

const (
	TypeSessionCreated         Type = "SessionCreated"
	TypeAgentJoinedSession     Type = "AgentJoinedSession"
	TypeAgentClaimedTask       Type = "AgentClaimedTask"
	TypeAgentCompletedTask     Type = "AgentCompletedTask"
	TypeAgentPostedFinding     Type = "AgentPostedFinding"
	TypeAgentValidatedFinding  Type = "AgentValidatedFinding"
	TypeAgentChallengedFinding Type = "AgentChallengedFinding"
	TypeConsensusReached       Type = "ConsensusReached"
	TypeDisagreementRecorded   Type = "DisagreementRecorded"
)

// Validate checks if the Type is a valid enum value.
func (t Type) Validate() error {
	switch t {
	case TypeSessionCreated, TypeAgentJoinedSession, TypeAgentClaimedTask,
		TypeAgentCompletedTask, TypeAgentPostedFinding, TypeAgentValidatedFinding,
		TypeAgentChallengedFinding, TypeConsensusReached, TypeDisagreementRecorded:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// Event is one immutable audit record. AgentID and TaskID are promoted to the
// envelope for filtering; the type-specific detail lives in Payload.
type Event struct {
	EventID     string          `json:"event_id"`
	TimestampMs int64           `json:"timestamp_ms"`
	Type        Type            `json:"event_type"`
	SessionID   string          `json:"session_id"`
	AgentID     string          `json:"agent_id,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Validate checks if the Event has valid field values.
func (e *Event) Validate() error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("invalid event ID: not a valid UUID")
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	return nil
}

// EvidenceRef is the evidence detail carried inside a completion payload.
// It mirrors the session store's evidence shape without depending on it.
type EvidenceRef struct {
	ToolOutputs map[string]string `json:"tool_outputs"`
	Sources     []string          `json:"sources"`
}

// CompletedTaskPayload is the payload of an AgentCompletedTask event.
type CompletedTaskPayload struct {
	Conclusion     string      `json:"conclusion"`
	Evidence       EvidenceRef `json:"evidence"`
	ReasoningTrace string      `json:"reasoning_trace"`
	Confidence     float64     `json:"confidence"`
}

// ValidationPayload is the payload of an AgentValidatedFinding or
// AgentChallengedFinding event.
type ValidationPayload struct {
	Status     string  `json:"status"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// DecodePayload strictly decodes an event payload into out, failing on
// unknown fields so schema drift surfaces loudly instead of defaulting.
func (e *Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.EventID)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
