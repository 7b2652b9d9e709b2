// Package session implements the shared research-session store: session
// lifecycle, participant membership, investigation claims, findings, peer
// validations, and the derived consensus classification. It is the system of
// record for the coordination layer; every mutation is an optimistic
// read-compute-CAS over the session's document.
package session

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// StatusActive indicates the session accepts joins, claims, and findings.
	StatusActive SessionStatus = "active"

	// StatusComplete indicates the session was explicitly completed. One-way.
	StatusComplete SessionStatus = "complete"

	// StatusAbandoned indicates the session was explicitly abandoned. One-way.
	StatusAbandoned SessionStatus = "abandoned"
)

// Validate checks if the SessionStatus is a valid enum value.
func (s SessionStatus) Validate() error {
	switch s {
	case StatusActive, StatusComplete, StatusAbandoned:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", s)
	}
}

// ValidationStatus is a peer agent's judgment about a finding.
type ValidationStatus string

const (
	// ValidationConfirmed indicates the validator reproduced or agrees with the finding.
	ValidationConfirmed ValidationStatus = "confirmed"

	// ValidationPartial indicates partial agreement with reservations.
	ValidationPartial ValidationStatus = "partial"

	// ValidationChallenged indicates the validator disputes the finding.
	ValidationChallenged ValidationStatus = "challenged"

	// ValidationInconclusive indicates the validator could not judge either way.
	ValidationInconclusive ValidationStatus = "inconclusive"
)

// Validate checks if the ValidationStatus is a valid enum value.
func (v ValidationStatus) Validate() error {
	switch v {
	case ValidationConfirmed, ValidationPartial, ValidationChallenged, ValidationInconclusive:
		return nil
	default:
		return fmt.Errorf("unknown validation status: %q", v)
	}
}

// Evidence is the supporting material attached to a finding: raw tool outputs
// keyed by tool name, plus source references (papers, database entries, URLs).
type Evidence struct {
	ToolOutputs map[string]string `json:"tool_outputs"`
	Sources     []string          `json:"sources"`
}

// Validation is one peer judgment on a finding. Immutable once appended.
// At most one validation per (validator, finding) pair; a finding's author
// never validates their own finding.
type Validation struct {
	Validator   string           `json:"validator"`
	Status      ValidationStatus `json:"status"`
	Reasoning   string           `json:"reasoning"`
	Confidence  float64          `json:"confidence"`
	CreatedAtMs int64            `json:"created_at_ms"`
}

// Validate checks if the Validation has valid field values.
func (v *Validation) Validate() error {
	if v.Validator == "" {
		return fmt.Errorf("validator cannot be empty")
	}
	if err := v.Status.Validate(); err != nil {
		return fmt.Errorf("invalid validation status: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", v.Confidence)
	}
	return nil
}

// Finding is a claimed conclusion with supporting evidence, authored by one
// agent. Immutable once created except for the append-only validations list.
type Finding struct {
	ID             string       `json:"id"`
	Author         string       `json:"author"`
	Result         string       `json:"result"`
	Evidence       Evidence     `json:"evidence"`
	Confidence     float64      `json:"confidence"`
	ReasoningTrace string       `json:"reasoning_trace"`
	CreatedAtMs    int64        `json:"created_at_ms"`
	Validations    []Validation `json:"validations"`
}

// Validate checks if the Finding has valid field values.
func (f *Finding) Validate() error {
	if !isValidUUID(f.ID) {
		return fmt.Errorf("invalid finding ID: not a valid UUID")
	}
	if f.Author == "" {
		return fmt.Errorf("finding author cannot be empty")
	}
	if f.Result == "" {
		return fmt.Errorf("finding result cannot be empty")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", f.Confidence)
	}
	for i := range f.Validations {
		if err := f.Validations[i].Validate(); err != nil {
			return fmt.Errorf("invalid validation at index %d: %w", i, err)
		}
	}
	return nil
}

// ValidationBy returns the validation this validator already posted on the
// finding, if any.
func (f *Finding) ValidationBy(validator string) *Validation {
	for i := range f.Validations {
		if f.Validations[i].Validator == validator {
			return &f.Validations[i]
		}
	}
	return nil
}

// SuggestedInvestigation is one proposed line of work within a session.
type SuggestedInvestigation struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	NeededSkills []string `json:"needed_skills"`
}

// Session is a shared investigation workspace coordinating multiple agents.
//
// Invariants: Participants never shrinks; ClaimedInvestigations keys are a
// subset of SuggestedInvestigations IDs; Findings only grow; Status moves
// one-way from active to complete or abandoned.
type Session struct {
	ID          string        `json:"id"`
	Topic       string        `json:"topic"`
	Description string        `json:"description"`
	CreatedBy   string        `json:"created_by"`
	CreatedAtMs int64         `json:"created_at_ms"`
	Status      SessionStatus `json:"status"`

	MaxParticipants int              `json:"max_participants"`
	Participants    []string         `json:"participants"`
	JoinedAtMs      map[string]int64 `json:"joined_at_ms"`

	SuggestedInvestigations []SuggestedInvestigation `json:"suggested_investigations"`
	ClaimedInvestigations   map[string]string        `json:"claimed_investigations"`
	ClaimedAtMs             map[string]int64         `json:"claimed_at_ms"`

	Findings []Finding `json:"findings"`

	// Completion / abandonment detail. Set once by the one-way transition.
	Summary       string `json:"summary,omitempty"`
	ResultPostID  string `json:"result_post_id,omitempty"`
	ClosedAtMs    int64  `json:"closed_at_ms,omitempty"`
	AbandonReason string `json:"abandon_reason,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the Session has valid field values and that the
// claimed-investigations keys stay a subset of the suggested IDs.
func (s *Session) Validate() error {
	if !isValidUUID(s.ID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if s.Topic == "" {
		return fmt.Errorf("session topic cannot be empty")
	}
	if s.CreatedBy == "" {
		return fmt.Errorf("created_by cannot be empty")
	}
	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if s.MaxParticipants < 1 {
		return fmt.Errorf("max_participants must be >= 1, got %d", s.MaxParticipants)
	}
	if len(s.Participants) > s.MaxParticipants {
		return fmt.Errorf("participant count %d exceeds max_participants %d", len(s.Participants), s.MaxParticipants)
	}

	suggested := make(map[string]bool, len(s.SuggestedInvestigations))
	for i, inv := range s.SuggestedInvestigations {
		if inv.ID == "" {
			return fmt.Errorf("suggested investigation at index %d has empty ID", i)
		}
		suggested[inv.ID] = true
	}
	for invID := range s.ClaimedInvestigations {
		if !suggested[invID] {
			return fmt.Errorf("claimed investigation %s is not in suggested_investigations", invID)
		}
	}

	for i := range s.Findings {
		if err := s.Findings[i].Validate(); err != nil {
			return fmt.Errorf("invalid finding at index %d: %w", i, err)
		}
	}

	return nil
}

// HasParticipant returns true if the agent has joined the session.
func (s *Session) HasParticipant(agentID string) bool {
	for _, p := range s.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// FindingByID returns the finding with the given ID, or nil.
func (s *Session) FindingByID(findingID string) *Finding {
	for i := range s.Findings {
		if s.Findings[i].ID == findingID {
			return &s.Findings[i]
		}
	}
	return nil
}

// investigationExists returns true if the ID is in suggested_investigations.
func (s *Session) investigationExists(investigationID string) bool {
	for _, inv := range s.SuggestedInvestigations {
		if inv.ID == investigationID {
			return true
		}
	}
	return false
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
