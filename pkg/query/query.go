// Package query is the read-only transparency layer: pure projections
// composing the session store and the event log. It holds no state of its
// own, and the coordination logic never consults it — it exists for humans
// and tools reconstructing what happened and why.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rookery-dev/rookery/pkg/eventlog"
	"github.com/rookery-dev/rookery/pkg/session"
)

// API composes the two read sources. The event log is optional: with a nil
// log every evidence chain is derived from the session store fallback path.
type API struct {
	sessions *session.Store
	log      *eventlog.Log
}

// New creates a query API over a session store and an optional event log.
func New(sessions *session.Store, log *eventlog.Log) *API {
	return &API{sessions: sessions, log: log}
}

// ErrFindingNotFound indicates the finding does not exist in the session.
var ErrFindingNotFound = errors.New("query: finding not found")

// EvidenceChain reconstructs the evidence chain for a finding. The event log
// is preferred; when it is absent or has no completion event for the finding,
// an equivalent chain is derived directly from the stored finding. Both paths
// build their trail through eventlog.BuildTrail, so the trails are identical
// for the same underlying finding.
func (a *API) EvidenceChain(ctx context.Context, sessionID, findingID string) (*eventlog.EvidenceChain, error) {
	if a.log != nil {
		chain, err := a.log.GetEvidenceChain(ctx, sessionID, findingID)
		if err == nil {
			return chain, nil
		}
		if !errors.Is(err, eventlog.ErrTaskNotFound) {
			return nil, err
		}
	}
	return a.evidenceChainFromSession(ctx, sessionID, findingID)
}

// evidenceChainFromSession is the fallback path: rebuild the chain from the
// finding as stored in the session document.
func (a *API) evidenceChainFromSession(ctx context.Context, sessionID, findingID string) (*eventlog.EvidenceChain, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	finding := sess.FindingByID(findingID)
	if finding == nil {
		return nil, ErrFindingNotFound
	}

	chain := &eventlog.EvidenceChain{
		TaskID:     findingID,
		Agent:      finding.Author,
		Conclusion: finding.Result,
		Confidence: finding.Confidence,
		Trail:      eventlog.BuildTrail(finding.Evidence.ToolOutputs, finding.ReasoningTrace),
	}

	for _, v := range finding.Validations {
		judgment := eventlog.Judgment{
			Agent:       v.Validator,
			Status:      string(v.Status),
			Reasoning:   v.Reasoning,
			Confidence:  v.Confidence,
			TimestampMs: v.CreatedAtMs,
		}
		if v.Status == session.ValidationChallenged {
			chain.Challenges = append(chain.Challenges, judgment)
		} else {
			chain.Validations = append(chain.Validations, judgment)
		}
	}

	return chain, nil
}

// ValidationBreakdown partitions a finding's validations by status alongside
// its derived classification.
type ValidationBreakdown struct {
	FindingID      string
	Classification session.Classification
	ByStatus       map[session.ValidationStatus][]session.Validation
}

// FindingValidations returns the finding's validations partitioned by status
// plus the session store classification.
func (a *API) FindingValidations(ctx context.Context, sessionID, findingID string) (*ValidationBreakdown, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	finding := sess.FindingByID(findingID)
	if finding == nil {
		return nil, ErrFindingNotFound
	}

	byStatus := map[session.ValidationStatus][]session.Validation{}
	for _, v := range finding.Validations {
		byStatus[v.Status] = append(byStatus[v.Status], v)
	}

	return &ValidationBreakdown{
		FindingID:      findingID,
		Classification: session.Classify(finding),
		ByStatus:       byStatus,
	}, nil
}

// Activity summarizes one agent's participation in a session.
type Activity struct {
	AgentID               string
	JoinedAtMs            int64
	FindingsAuthored      []string
	ValidationsGiven      map[session.ValidationStatus]int
	InvestigationsClaimed []string
}

// AgentActivity reports the findings authored, validations given (with a
// status breakdown), investigations claimed, and join timestamp for one agent.
func (a *API) AgentActivity(ctx context.Context, sessionID, agentID string) (*Activity, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	activity := &Activity{
		AgentID:          agentID,
		JoinedAtMs:       sess.JoinedAtMs[agentID],
		ValidationsGiven: map[session.ValidationStatus]int{},
	}

	for i := range sess.Findings {
		finding := &sess.Findings[i]
		if finding.Author == agentID {
			activity.FindingsAuthored = append(activity.FindingsAuthored, finding.ID)
		}
		for _, v := range finding.Validations {
			if v.Validator == agentID {
				activity.ValidationsGiven[v.Status]++
			}
		}
	}

	for invID, holder := range sess.ClaimedInvestigations {
		if holder == agentID {
			activity.InvestigationsClaimed = append(activity.InvestigationsClaimed, invID)
		}
	}
	sort.Strings(activity.InvestigationsClaimed)

	return activity, nil
}

// Consensus is the system-of-record consensus view: per-classification
// finding counts plus the overall consensus rate, computed from the session
// store (not the event log).
type Consensus struct {
	TotalFindings int
	Counts        map[session.Classification]int
	ConsensusRate float64
}

// SessionConsensus computes the per-finding classification counts and the
// overall consensus rate directly from the stored session.
func (a *API) SessionConsensus(ctx context.Context, sessionID string) (*Consensus, error) {
	state, err := a.sessions.GetSessionState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	counts := map[session.Classification]int{}
	for _, class := range state.Classifications {
		counts[class]++
	}

	return &Consensus{
		TotalFindings: len(state.Session.Findings),
		Counts:        counts,
		ConsensusRate: state.ConsensusRate,
	}, nil
}

// TimelineEntry is one row of a session's chronological history.
type TimelineEntry struct {
	TimestampMs int64
	Kind        string // session_created, agent_joined, investigation_claimed, finding_posted, finding_validated
	Agent       string
	Ref         string // investigation, finding, or validated-finding ID
	Detail      string
}

// SessionTimeline merges session creation, joins, claims, finding posts, and
// validations into one chronologically sorted list, derived entirely from the
// session document.
func (a *API) SessionTimeline(ctx context.Context, sessionID string) ([]TimelineEntry, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var entries []TimelineEntry
	entries = append(entries, TimelineEntry{
		TimestampMs: sess.CreatedAtMs,
		Kind:        "session_created",
		Agent:       sess.CreatedBy,
		Detail:      sess.Topic,
	})

	for agent, ts := range sess.JoinedAtMs {
		if agent == sess.CreatedBy {
			// The creator's join is the creation itself.
			continue
		}
		entries = append(entries, TimelineEntry{TimestampMs: ts, Kind: "agent_joined", Agent: agent})
	}

	for invID, ts := range sess.ClaimedAtMs {
		entries = append(entries, TimelineEntry{
			TimestampMs: ts,
			Kind:        "investigation_claimed",
			Agent:       sess.ClaimedInvestigations[invID],
			Ref:         invID,
		})
	}

	for i := range sess.Findings {
		finding := &sess.Findings[i]
		entries = append(entries, TimelineEntry{
			TimestampMs: finding.CreatedAtMs,
			Kind:        "finding_posted",
			Agent:       finding.Author,
			Ref:         finding.ID,
			Detail:      finding.Result,
		})
		for _, v := range finding.Validations {
			entries = append(entries, TimelineEntry{
				TimestampMs: v.CreatedAtMs,
				Kind:        "finding_validated",
				Agent:       v.Validator,
				Ref:         finding.ID,
				Detail:      string(v.Status),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TimestampMs != entries[j].TimestampMs {
			return entries[i].TimestampMs < entries[j].TimestampMs
		}
		// Stable tie-break so concurrent same-millisecond entries render
		// deterministically.
		ki := fmt.Sprintf("%s/%s/%s", entries[i].Kind, entries[i].Agent, entries[i].Ref)
		kj := fmt.Sprintf("%s/%s/%s", entries[j].Kind, entries[j].Agent, entries[j].Ref)
		return ki < kj
	})

	return entries, nil
}
