// Package discovery implements the agent skill/interest registry and the
// broadcast board of sessions looking for collaborators. The whole index is
// one shared document behind the docstore port; every mutation goes through
// the CAS loop so concurrent heartbeats never lose each other's updates.
//
// Entries have no TTL. Staleness is an accepted property of the registry, not
// a bug: consumers that care compare LastHeartbeatMs against their own cadence.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rookery-dev/rookery/pkg/docstore"
)

// indexDocID is the ID of the single shared index document.
const indexDocID = "index"

// AgentRecord describes one registered agent: what it can do (skills), what
// it cares about (interests), and when it last heartbeated.
type AgentRecord struct {
	Name            string   `json:"name"`
	Skills          []string `json:"skills"`
	Interests       []string `json:"interests"`
	Domain          string   `json:"domain"`
	Status          string   `json:"status"`
	LastHeartbeatMs int64    `json:"last_heartbeat_ms"`
}

// SessionAd is a broadcast advertising a session that wants collaborators.
type SessionAd struct {
	SessionID         string   `json:"session_id"`
	Topic             string   `json:"topic"`
	NeededSkills      []string `json:"needed_skills"`
	InvestigationType string   `json:"investigation_type"`
	SuggestionCount   int      `json:"suggestion_count"`
	CreatedAtMs       int64    `json:"created_at_ms"`
}

// indexDoc is the persisted shape of the registry.
// SkillIndex must always equal the derived inverse of Agents[*].Skills; both
// register and unregister rebuild the affected buckets to keep that invariant.
type indexDoc struct {
	Agents         map[string]AgentRecord `json:"agents"`
	SkillIndex     map[string][]string    `json:"skill_index"`
	ActiveSessions map[string]SessionAd   `json:"active_sessions"`
}

func emptyIndex() *indexDoc {
	return &indexDoc{
		Agents:         map[string]AgentRecord{},
		SkillIndex:     map[string][]string{},
		ActiveSessions: map[string]SessionAd{},
	}
}

// Index provides registry operations over a document store.
type Index struct {
	docs docstore.Store
}

// NewIndex creates a discovery index over the given document store.
func NewIndex(docs docstore.Store) *Index {
	return &Index{docs: docs}
}

// ErrAgentNotFound indicates the named agent is not registered.
var ErrAgentNotFound = errors.New("discovery: agent not found")

// RegisterAgent upserts an agent record and stamps its heartbeat. Skills and
// interests are normalized to trimmed lower case. The agent's name is removed
// from every skill bucket it currently belongs to and re-inserted under its
// current skills, keeping the skill index an exact inverse of agent skills.
func (ix *Index) RegisterAgent(ctx context.Context, name string, skills, interests []string, domain, status string) error {
	if name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	record := AgentRecord{
		Name:            name,
		Skills:          normalizeSet(skills),
		Interests:       normalizeSet(interests),
		Domain:          domain,
		Status:          status,
		LastHeartbeatMs: time.Now().UnixMilli(),
	}

	return ix.update(ctx, func(doc *indexDoc) error {
		doc.Agents[name] = record
		removeFromAllBuckets(doc.SkillIndex, name)
		for _, skill := range record.Skills {
			doc.SkillIndex[skill] = insertSorted(doc.SkillIndex[skill], name)
		}
		return nil
	})
}

// UnregisterAgent removes an agent from the registry and from every skill
// bucket. Unregistering an unknown agent is not an error.
func (ix *Index) UnregisterAgent(ctx context.Context, name string) error {
	return ix.update(ctx, func(doc *indexDoc) error {
		delete(doc.Agents, name)
		removeFromAllBuckets(doc.SkillIndex, name)
		return nil
	})
}

// BroadcastSession upserts a session advertisement.
func (ix *Index) BroadcastSession(ctx context.Context, sessionID, topic string, neededSkills []string, investigationType string, suggestionCount int) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	ad := SessionAd{
		SessionID:         sessionID,
		Topic:             topic,
		NeededSkills:      normalizeSet(neededSkills),
		InvestigationType: investigationType,
		SuggestionCount:   suggestionCount,
		CreatedAtMs:       time.Now().UnixMilli(),
	}

	return ix.update(ctx, func(doc *indexDoc) error {
		if existing, ok := doc.ActiveSessions[sessionID]; ok {
			// Upserts keep the original broadcast time.
			ad.CreatedAtMs = existing.CreatedAtMs
		}
		doc.ActiveSessions[sessionID] = ad
		return nil
	})
}

// RemoveSession deletes a session advertisement. Removing an unknown session
// is not an error.
func (ix *Index) RemoveSession(ctx context.Context, sessionID string) error {
	return ix.update(ctx, func(doc *indexDoc) error {
		delete(doc.ActiveSessions, sessionID)
		return nil
	})
}

// GetAgent returns one agent's record.
func (ix *Index) GetAgent(ctx context.Context, name string) (AgentRecord, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return AgentRecord{}, err
	}
	record, ok := doc.Agents[name]
	if !ok {
		return AgentRecord{}, ErrAgentNotFound
	}
	return record, nil
}

// ListAgents returns every registered agent sorted by name.
func (ix *Index) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, 0, len(doc.Agents))
	for _, record := range doc.Agents {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindAgentsBySkill returns agents possessing ALL requested skills, excluding
// the named agents, filtered to the requested availability status (empty
// means any). Results are ranked descending by the overlap between the
// requested skills and the agent's full skill set, ties broken by name.
func (ix *Index) FindAgentsBySkill(ctx context.Context, skills, exclude []string, availability string) ([]AgentRecord, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}

	wanted := normalizeSet(skills)
	if len(wanted) == 0 {
		return nil, nil
	}

	// Candidate set: intersection across the requested skills' buckets.
	candidates := map[string]bool{}
	for _, name := range doc.SkillIndex[wanted[0]] {
		candidates[name] = true
	}
	for _, skill := range wanted[1:] {
		bucket := map[string]bool{}
		for _, name := range doc.SkillIndex[skill] {
			bucket[name] = true
		}
		for name := range candidates {
			if !bucket[name] {
				delete(candidates, name)
			}
		}
	}

	excluded := map[string]bool{}
	for _, name := range exclude {
		excluded[name] = true
	}

	type scored struct {
		record AgentRecord
		score  int
	}
	var matches []scored
	for name := range candidates {
		record, ok := doc.Agents[name]
		if !ok || excluded[name] {
			continue
		}
		if availability != "" && record.Status != availability {
			continue
		}
		matches = append(matches, scored{record: record, score: overlapCount(wanted, record.Skills)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].record.Name < matches[j].record.Name
	})

	out := make([]AgentRecord, len(matches))
	for i, m := range matches {
		out[i] = m.record
	}
	return out, nil
}

// FindAgentsByInterest returns up to maxAgents agents whose interests score
// against the topic: 2 per substring match between an interest and the topic,
// 1 per token-level overlap otherwise. Agents with a zero score are omitted.
func (ix *Index) FindAgentsByInterest(ctx context.Context, topic string, maxAgents int) ([]AgentRecord, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		record AgentRecord
		score  int
	}
	var matches []scored
	for _, record := range doc.Agents {
		score := interestScore(record.Interests, topic)
		if score > 0 {
			matches = append(matches, scored{record: record, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].record.Name < matches[j].record.Name
	})

	if maxAgents > 0 && len(matches) > maxAgents {
		matches = matches[:maxAgents]
	}

	out := make([]AgentRecord, len(matches))
	for i, m := range matches {
		out[i] = m.record
	}
	return out, nil
}

// FindSessionsBySkill returns up to limit broadcast sessions whose needed
// skills overlap the given skills, ranked descending by overlap count.
func (ix *Index) FindSessionsBySkill(ctx context.Context, skills []string, limit int) ([]SessionAd, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}

	wanted := normalizeSet(skills)

	type scored struct {
		ad    SessionAd
		score int
	}
	var matches []scored
	for _, ad := range doc.ActiveSessions {
		score := overlapCount(wanted, ad.NeededSkills)
		if score > 0 {
			matches = append(matches, scored{ad: ad, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].ad.SessionID < matches[j].ad.SessionID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]SessionAd, len(matches))
	for i, m := range matches {
		out[i] = m.ad
	}
	return out, nil
}

// FindSessionsByInterest returns up to limit broadcast sessions whose topic
// scores against the given topic, using the same substring/token scoring as
// agent interest matching.
func (ix *Index) FindSessionsByInterest(ctx context.Context, topic string, limit int) ([]SessionAd, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		ad    SessionAd
		score int
	}
	var matches []scored
	for _, ad := range doc.ActiveSessions {
		score := interestScore([]string{ad.Topic}, topic)
		if score > 0 {
			matches = append(matches, scored{ad: ad, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].ad.SessionID < matches[j].ad.SessionID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]SessionAd, len(matches))
	for i, m := range matches {
		out[i] = m.ad
	}
	return out, nil
}

// SkillBucket returns the agent names currently indexed under a skill.
// Exposed for invariant checks and diagnostics.
func (ix *Index) SkillBucket(ctx context.Context, skill string) ([]string, error) {
	doc, err := ix.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.SkillIndex[normalize(skill)], nil
}

// read loads the index document, treating a missing or corrupt document as an
// empty registry.
func (ix *Index) read(ctx context.Context) (*indexDoc, error) {
	stored, err := ix.docs.Get(ctx, indexDocID)
	if err != nil {
		if docstore.IsNotFound(err) || errors.Is(err, docstore.ErrCorrupt) {
			return emptyIndex(), nil
		}
		return nil, err
	}

	doc := emptyIndex()
	if err := json.Unmarshal(stored.Data, doc); err != nil {
		return emptyIndex(), nil
	}
	if doc.Agents == nil {
		doc.Agents = map[string]AgentRecord{}
	}
	if doc.SkillIndex == nil {
		doc.SkillIndex = map[string][]string{}
	}
	if doc.ActiveSessions == nil {
		doc.ActiveSessions = map[string]SessionAd{}
	}
	return doc, nil
}

// update runs one registry mutation through the optimistic CAS loop.
func (ix *Index) update(ctx context.Context, mutate func(*indexDoc) error) error {
	return docstore.Update(ctx, ix.docs, indexDocID, func(data []byte, exists bool) ([]byte, error) {
		doc := emptyIndex()
		if exists {
			if err := json.Unmarshal(data, doc); err != nil {
				// Malformed registry: recover as empty rather than fail.
				doc = emptyIndex()
			}
			if doc.Agents == nil {
				doc.Agents = map[string]AgentRecord{}
			}
			if doc.SkillIndex == nil {
				doc.SkillIndex = map[string][]string{}
			}
			if doc.ActiveSessions == nil {
				doc.ActiveSessions = map[string]SessionAd{}
			}
		}

		if err := mutate(doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	})
}

// removeFromAllBuckets deletes the agent name from every skill bucket,
// dropping buckets that become empty.
func removeFromAllBuckets(index map[string][]string, name string) {
	for skill, bucket := range index {
		filtered := bucket[:0]
		for _, member := range bucket {
			if member != name {
				filtered = append(filtered, member)
			}
		}
		if len(filtered) == 0 {
			delete(index, skill)
		} else {
			index[skill] = filtered
		}
	}
}

// insertSorted inserts name into a sorted bucket, ignoring duplicates.
func insertSorted(bucket []string, name string) []string {
	i := sort.SearchStrings(bucket, name)
	if i < len(bucket) && bucket[i] == name {
		return bucket
	}
	bucket = append(bucket, "")
	copy(bucket[i+1:], bucket[i:])
	bucket[i] = name
	return bucket
}

// normalize lowercases and trims one term.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeSet normalizes, deduplicates, and sorts a term list.
func normalizeSet(terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, term := range terms {
		n := normalize(term)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
