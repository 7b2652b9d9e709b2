package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rookery-dev/rookery/pkg/docstore"
)

// Store provides session lifecycle operations over a document store.
// Every mutation is a read-compute-CAS cycle against the session's document,
// so concurrent writers in different processes retry instead of silently
// overwriting each other. The store is safe for concurrent use.
type Store struct {
	docs docstore.Store
}

// NewStore creates a session store over the given document store.
func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

var (
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrNotAParticipant indicates the acting agent has not joined the session.
	ErrNotAParticipant = errors.New("session: agent is not a participant")

	// ErrSessionClosed indicates the session is complete or abandoned and no
	// longer accepts mutations.
	ErrSessionClosed = errors.New("session: session is closed")

	// ErrAlreadyClosed indicates a complete/abandon transition conflicts with
	// an earlier one (different summary, or the opposite transition).
	ErrAlreadyClosed = errors.New("session: session already closed differently")

	// errNoChange aborts a document update without writing. Internal to the
	// store: operations that resolve to a read-only outcome (AlreadyJoined,
	// Conflict, ...) use it to leave the document untouched.
	errNoChange = errors.New("session: no change")
)

// IsNotFound returns true if the error indicates a missing session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// JoinStatus is the outcome of a JoinSession call.
type JoinStatus string

const (
	Joined        JoinStatus = "joined"
	AlreadyJoined JoinStatus = "already_joined"
	SessionFull   JoinStatus = "full"
	JoinNotFound  JoinStatus = "not_found"
)

// ClaimStatus is the outcome of a ClaimInvestigation call.
type ClaimStatus string

const (
	Claimed             ClaimStatus = "claimed"
	AlreadyClaimedByYou ClaimStatus = "already_claimed_by_you"
	ClaimConflict       ClaimStatus = "conflict"
	ClaimNotFound       ClaimStatus = "not_found"
)

// ClaimResult is the structured outcome of a claim attempt. HeldBy is set
// when the status is ClaimConflict and names the agent holding the claim.
type ClaimResult struct {
	Status ClaimStatus
	HeldBy string
}

// ValidateStatus is the outcome of a ValidateFinding call.
type ValidateStatus string

const (
	Validated               ValidateStatus = "validated"
	SelfValidationForbidden ValidateStatus = "self_validation_forbidden"
	DuplicateValidation     ValidateStatus = "duplicate_validation"
	ValidateNotFound        ValidateStatus = "not_found"
)

// State is the derived read-only view returned by GetSessionState.
type State struct {
	Session         *Session
	Classifications map[string]Classification
	ConsensusRate   float64
}

// CreateSession persists a new session with the creator as sole participant.
// Suggested investigations without an ID are assigned one. Returns the new
// session ID.
func (s *Store) CreateSession(ctx context.Context, topic, description, createdBy string, suggested []SuggestedInvestigation, maxParticipants int) (string, error) {
	if maxParticipants < 1 {
		return "", fmt.Errorf("max_participants must be >= 1, got %d", maxParticipants)
	}

	now := time.Now().UnixMilli()
	sess := &Session{
		ID:              uuid.New().String(),
		Topic:           topic,
		Description:     description,
		CreatedBy:       createdBy,
		CreatedAtMs:     now,
		Status:          StatusActive,
		MaxParticipants: maxParticipants,
		Participants:    []string{createdBy},
		JoinedAtMs:      map[string]int64{createdBy: now},

		ClaimedInvestigations: map[string]string{},
		ClaimedAtMs:           map[string]int64{},
		Findings:              []Finding{},
		Metadata:              map[string]string{},
	}

	for i := range suggested {
		if suggested[i].ID == "" {
			suggested[i].ID = uuid.New().String()
		}
	}
	sess.SuggestedInvestigations = suggested

	if err := sess.Validate(); err != nil {
		return "", fmt.Errorf("invalid session: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}

	// Create-only CAS: a freshly generated UUID cannot collide with a live
	// document, so expected version 0 either succeeds or replaces a corrupt
	// leftover under the same ID.
	if _, err := s.docs.CompareAndSwap(ctx, sess.ID, 0, data); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	return sess.ID, nil
}

// JoinSession adds the agent to the session's participants. Idempotent:
// joining twice reports AlreadyJoined without changing the participant set.
// Fails with SessionFull once the session is at max_participants, and with
// ErrSessionClosed once the session is complete or abandoned.
func (s *Store) JoinSession(ctx context.Context, sessionID, agentID string) (JoinStatus, error) {
	status := JoinNotFound

	err := s.update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		if sess.HasParticipant(agentID) {
			status = AlreadyJoined
			return errNoChange
		}
		if len(sess.Participants) >= sess.MaxParticipants {
			status = SessionFull
			return errNoChange
		}

		sess.Participants = append(sess.Participants, agentID)
		if sess.JoinedAtMs == nil {
			sess.JoinedAtMs = map[string]int64{}
		}
		sess.JoinedAtMs[agentID] = time.Now().UnixMilli()
		status = Joined
		return nil
	})
	if err != nil {
		return JoinNotFound, err
	}
	return status, nil
}

// ClaimInvestigation claims a suggested investigation for an agent.
// First writer wins: a later claimant observes ClaimConflict with the name of
// the holder. Re-claiming your own investigation reports AlreadyClaimedByYou.
// ClaimNotFound covers both a missing session and an investigation ID that is
// not in suggested_investigations. Claims against a closed session fail with
// ErrSessionClosed.
func (s *Store) ClaimInvestigation(ctx context.Context, sessionID, investigationID, agentID string) (ClaimResult, error) {
	result := ClaimResult{Status: ClaimNotFound}

	err := s.update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		if !sess.investigationExists(investigationID) {
			result = ClaimResult{Status: ClaimNotFound}
			return errNoChange
		}
		if holder, ok := sess.ClaimedInvestigations[investigationID]; ok {
			if holder == agentID {
				result = ClaimResult{Status: AlreadyClaimedByYou}
			} else {
				result = ClaimResult{Status: ClaimConflict, HeldBy: holder}
			}
			return errNoChange
		}

		if sess.ClaimedInvestigations == nil {
			sess.ClaimedInvestigations = map[string]string{}
		}
		if sess.ClaimedAtMs == nil {
			sess.ClaimedAtMs = map[string]int64{}
		}
		sess.ClaimedInvestigations[investigationID] = agentID
		sess.ClaimedAtMs[investigationID] = time.Now().UnixMilli()
		result = ClaimResult{Status: Claimed}
		return nil
	})
	if err != nil {
		return ClaimResult{Status: ClaimNotFound}, err
	}
	return result, nil
}

// PostFinding appends a new finding with an empty validation list and returns
// its ID. The author must be a participant; posting to a closed session fails
// with ErrSessionClosed.
func (s *Store) PostFinding(ctx context.Context, sessionID, agentID, result string, evidence Evidence, confidence float64, reasoningTrace string) (string, error) {
	finding := Finding{
		ID:             uuid.New().String(),
		Author:         agentID,
		Result:         result,
		Evidence:       evidence,
		Confidence:     confidence,
		ReasoningTrace: reasoningTrace,
		CreatedAtMs:    time.Now().UnixMilli(),
		Validations:    []Validation{},
	}
	if err := finding.Validate(); err != nil {
		return "", fmt.Errorf("invalid finding: %w", err)
	}

	err := s.update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		if !sess.HasParticipant(agentID) {
			return ErrNotAParticipant
		}
		sess.Findings = append(sess.Findings, finding)
		return nil
	})
	if err != nil {
		return "", err
	}
	return finding.ID, nil
}

// ValidateFinding appends a peer validation to a finding. Self-validation is
// rejected, and a second validation from the same validator on the same
// finding is rejected regardless of the status or confidence supplied.
// Validations against a closed session fail with ErrSessionClosed, so a late
// validation can never reclassify a completed session's findings.
func (s *Store) ValidateFinding(ctx context.Context, sessionID, findingID, validatorID string, status ValidationStatus, reasoning string, confidence float64) (ValidateStatus, error) {
	validation := Validation{
		Validator:   validatorID,
		Status:      status,
		Reasoning:   reasoning,
		Confidence:  confidence,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if err := validation.Validate(); err != nil {
		return ValidateNotFound, fmt.Errorf("invalid validation: %w", err)
	}

	outcome := ValidateNotFound
	err := s.update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		finding := sess.FindingByID(findingID)
		if finding == nil {
			outcome = ValidateNotFound
			return errNoChange
		}
		if finding.Author == validatorID {
			outcome = SelfValidationForbidden
			return errNoChange
		}
		if finding.ValidationBy(validatorID) != nil {
			outcome = DuplicateValidation
			return errNoChange
		}

		finding.Validations = append(finding.Validations, validation)
		outcome = Validated
		return nil
	})
	if err != nil {
		return ValidateNotFound, err
	}
	return outcome, nil
}

// SuggestInvestigation appends a new suggested investigation to an active
// session. The proposer must be a participant. Returns the investigation ID.
func (s *Store) SuggestInvestigation(ctx context.Context, sessionID, agentID, description string, neededSkills []string) (string, error) {
	inv := SuggestedInvestigation{
		ID:           uuid.New().String(),
		Description:  description,
		NeededSkills: neededSkills,
	}

	err := s.update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrSessionClosed
		}
		if !sess.HasParticipant(agentID) {
			return ErrNotAParticipant
		}
		sess.SuggestedInvestigations = append(sess.SuggestedInvestigations, inv)
		return nil
	})
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// CompleteSession transitions the session to complete. One-way: repeated
// calls with the same summary are idempotent, a different summary or a prior
// abandonment fails with ErrAlreadyClosed.
func (s *Store) CompleteSession(ctx context.Context, sessionID, summary, resultPostID string) error {
	return s.update(ctx, sessionID, func(sess *Session) error {
		switch sess.Status {
		case StatusComplete:
			if sess.Summary == summary {
				return errNoChange
			}
			return ErrAlreadyClosed
		case StatusAbandoned:
			return ErrAlreadyClosed
		}

		sess.Status = StatusComplete
		sess.Summary = summary
		sess.ResultPostID = resultPostID
		sess.ClosedAtMs = time.Now().UnixMilli()
		return nil
	})
}

// AbandonSession transitions the session to abandoned. One-way, idempotent on
// the same reason, and mutually exclusive with completion.
func (s *Store) AbandonSession(ctx context.Context, sessionID, reason string) error {
	return s.update(ctx, sessionID, func(sess *Session) error {
		switch sess.Status {
		case StatusAbandoned:
			if sess.AbandonReason == reason {
				return errNoChange
			}
			return ErrAlreadyClosed
		case StatusComplete:
			return ErrAlreadyClosed
		}

		sess.Status = StatusAbandoned
		sess.AbandonReason = reason
		sess.ClosedAtMs = time.Now().UnixMilli()
		return nil
	})
}

// GetSession retrieves a session by ID without derived state.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := s.docs.Get(ctx, sessionID)
	if err != nil {
		if docstore.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		if errors.Is(err, docstore.ErrCorrupt) {
			log.Printf("[SessionStore] WARN: session document %s is corrupt, treating as missing", sessionID)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess, err := decodeSession(doc.Data)
	if err != nil {
		log.Printf("[SessionStore] WARN: session document %s failed to decode, treating as missing: %v", sessionID, err)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetSessionState returns the session plus its derived consensus view:
// a classification per finding and the overall consensus rate. Pure read;
// never mutates storage.
func (s *Store) GetSessionState(ctx context.Context, sessionID string) (*State, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	classifications := make(map[string]Classification, len(sess.Findings))
	for i := range sess.Findings {
		classifications[sess.Findings[i].ID] = Classify(&sess.Findings[i])
	}

	return &State{
		Session:         sess,
		Classifications: classifications,
		ConsensusRate:   ConsensusRate(sess.Findings),
	}, nil
}

// ListSessions returns the IDs of all stored sessions.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	return s.docs.List(ctx)
}

// update runs one session mutation through the optimistic CAS loop. The
// mutator sees the decoded current session and edits it in place; returning
// errNoChange resolves the operation without a write. A missing or corrupt
// document yields ErrSessionNotFound.
func (s *Store) update(ctx context.Context, sessionID string, mutate func(*Session) error) error {
	err := docstore.Update(ctx, s.docs, sessionID, func(data []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrSessionNotFound
		}

		sess, err := decodeSession(data)
		if err != nil {
			log.Printf("[SessionStore] WARN: session document %s failed to decode, treating as missing: %v", sessionID, err)
			return nil, ErrSessionNotFound
		}

		if err := mutate(sess); err != nil {
			return nil, err
		}

		if err := sess.Validate(); err != nil {
			return nil, fmt.Errorf("mutation produced invalid session: %w", err)
		}
		return json.Marshal(sess)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// decodeSession strictly decodes a session document, failing loudly on
// schema drift rather than silently defaulting required fields.
func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("session document failed validation: %w", err)
	}
	return &sess, nil
}
