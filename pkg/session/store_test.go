package session

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookery-dev/rookery/pkg/docstore"
)

// setupStore creates a session store over an in-memory document store.
func setupStore(t *testing.T) (*Store, *docstore.MemStore) {
	t.Helper()
	docs := docstore.NewMemStore()
	return NewStore(docs), docs
}

// setupRedisStore creates a session store backed by miniredis, for tests that
// should exercise the real CAS transaction path.
func setupRedisStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	docs, err := docstore.NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance", "session")
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	return NewStore(docs)
}

func createTestSession(t *testing.T, store *Store, maxParticipants int) string {
	t.Helper()

	suggested := []SuggestedInvestigation{
		{ID: "inv-structure", Description: "resolve the binding site structure", NeededSkills: []string{"pdb"}},
		{ID: "inv-literature", Description: "survey inhibitor literature", NeededSkills: []string{"pubmed"}},
	}
	id, err := store.CreateSession(context.Background(), "BACE1 investigation", "inhibitor mechanism review", "agent-a", suggested, maxParticipants)
	require.NoError(t, err)
	return id
}

func TestCreateSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	t.Run("creates session with creator as sole participant", func(t *testing.T) {
		id := createTestSession(t, store, 4)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "BACE1 investigation", sess.Topic)
		assert.Equal(t, StatusActive, sess.Status)
		assert.Equal(t, []string{"agent-a"}, sess.Participants)
		assert.Contains(t, sess.JoinedAtMs, "agent-a")
		assert.Len(t, sess.SuggestedInvestigations, 2)
		assert.Empty(t, sess.ClaimedInvestigations)
	})

	t.Run("assigns IDs to suggestions missing one", func(t *testing.T) {
		id, err := store.CreateSession(ctx, "topic", "", "agent-a",
			[]SuggestedInvestigation{{Description: "anonymous work item"}}, 2)
		require.NoError(t, err)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.NotEmpty(t, sess.SuggestedInvestigations[0].ID)
	})

	t.Run("rejects non-positive max_participants", func(t *testing.T) {
		_, err := store.CreateSession(ctx, "topic", "", "agent-a", nil, 0)
		assert.Error(t, err)
	})
}

func TestJoinSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 2)

	t.Run("join succeeds", func(t *testing.T) {
		status, err := store.JoinSession(ctx, id, "agent-b")
		require.NoError(t, err)
		assert.Equal(t, Joined, status)
	})

	t.Run("join is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			status, err := store.JoinSession(ctx, id, "agent-b")
			require.NoError(t, err)
			assert.Equal(t, AlreadyJoined, status)
		}

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Len(t, sess.Participants, 2)
	})

	t.Run("join fails once full", func(t *testing.T) {
		status, err := store.JoinSession(ctx, id, "agent-c")
		require.NoError(t, err)
		assert.Equal(t, SessionFull, status)
	})

	t.Run("join on missing session reports not found", func(t *testing.T) {
		status, err := store.JoinSession(ctx, "00000000-0000-0000-0000-000000000000", "agent-b")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Equal(t, JoinNotFound, status)
	})
}

func TestClaimInvestigation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	t.Run("first claim wins", func(t *testing.T) {
		result, err := store.ClaimInvestigation(ctx, id, "inv-structure", "agent-a")
		require.NoError(t, err)
		assert.Equal(t, Claimed, result.Status)
	})

	t.Run("re-claim by holder reports already claimed by you", func(t *testing.T) {
		result, err := store.ClaimInvestigation(ctx, id, "inv-structure", "agent-a")
		require.NoError(t, err)
		assert.Equal(t, AlreadyClaimedByYou, result.Status)
	})

	t.Run("second claimant observes conflict with holder", func(t *testing.T) {
		result, err := store.ClaimInvestigation(ctx, id, "inv-structure", "agent-b")
		require.NoError(t, err)
		assert.Equal(t, ClaimConflict, result.Status)
		assert.Equal(t, "agent-a", result.HeldBy)
	})

	t.Run("unknown investigation reports not found", func(t *testing.T) {
		result, err := store.ClaimInvestigation(ctx, id, "inv-nonexistent", "agent-a")
		require.NoError(t, err)
		assert.Equal(t, ClaimNotFound, result.Status)
	})
}

// TestClaimInvestigationConcurrent races two claimants over the real Redis
// CAS path: exactly one must win, and the loser must see the winner's name.
func TestClaimInvestigationConcurrent(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	_, err := store.JoinSession(ctx, id, "agent-b")
	require.NoError(t, err)

	results := make([]ClaimResult, 2)
	agents := []string{"agent-a", "agent-b"}

	var wg sync.WaitGroup
	for i := range agents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := store.ClaimInvestigation(ctx, id, "inv-structure", agents[i])
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	var winners, losers int
	var winner string
	for i, result := range results {
		switch result.Status {
		case Claimed:
			winners++
			winner = agents[i]
		case ClaimConflict:
			losers++
		default:
			t.Fatalf("unexpected claim status %q", result.Status)
		}
	}
	assert.Equal(t, 1, winners, "exactly one claimant must win")
	assert.Equal(t, 1, losers)

	for _, result := range results {
		if result.Status == ClaimConflict {
			assert.Equal(t, winner, result.HeldBy)
		}
	}
}

func TestPostFinding(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	t.Run("participant posts finding", func(t *testing.T) {
		findingID, err := store.PostFinding(ctx, id, "agent-a", "BACE1 inhibition is pH dependent",
			Evidence{ToolOutputs: map[string]string{"pubmed": "12 matching abstracts"}, Sources: []string{"PMID:1234"}},
			0.85, "searched pubmed\ncompared assay conditions")
		require.NoError(t, err)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		require.Len(t, sess.Findings, 1)
		assert.Equal(t, findingID, sess.Findings[0].ID)
		assert.Empty(t, sess.Findings[0].Validations)
	})

	t.Run("non-participant is rejected", func(t *testing.T) {
		_, err := store.PostFinding(ctx, id, "agent-stranger", "drive-by conclusion", Evidence{}, 0.5, "")
		assert.ErrorIs(t, err, ErrNotAParticipant)
	})

	t.Run("confidence outside [0,1] is rejected", func(t *testing.T) {
		_, err := store.PostFinding(ctx, id, "agent-a", "overconfident", Evidence{}, 1.5, "")
		assert.Error(t, err)
	})
}

func TestValidateFinding(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	findingID, err := store.PostFinding(ctx, id, "agent-a", "result", Evidence{}, 0.8, "trace")
	require.NoError(t, err)

	_, err = store.JoinSession(ctx, id, "agent-b")
	require.NoError(t, err)

	t.Run("peer validation is accepted", func(t *testing.T) {
		status, err := store.ValidateFinding(ctx, id, findingID, "agent-b", ValidationConfirmed, "reproduced", 0.8)
		require.NoError(t, err)
		assert.Equal(t, Validated, status)
	})

	t.Run("self-validation is forbidden", func(t *testing.T) {
		status, err := store.ValidateFinding(ctx, id, findingID, "agent-a", ValidationConfirmed, "trust me", 1.0)
		require.NoError(t, err)
		assert.Equal(t, SelfValidationForbidden, status)
	})

	t.Run("duplicate validation is forbidden regardless of new status", func(t *testing.T) {
		status, err := store.ValidateFinding(ctx, id, findingID, "agent-b", ValidationChallenged, "changed my mind", 0.2)
		require.NoError(t, err)
		assert.Equal(t, DuplicateValidation, status)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		require.Len(t, sess.Findings[0].Validations, 1)
		assert.Equal(t, ValidationConfirmed, sess.Findings[0].Validations[0].Status)
	})

	t.Run("unknown finding reports not found", func(t *testing.T) {
		status, err := store.ValidateFinding(ctx, id, "no-such-finding", "agent-b", ValidationConfirmed, "", 0.5)
		require.NoError(t, err)
		assert.Equal(t, ValidateNotFound, status)
	})
}

// TestSessionScenario runs the end-to-end disputed-finding scenario:
// A creates, B joins and confirms A's finding, C joins and challenges it.
// The finding must classify as disputed and the consensus rate must be zero.
func TestSessionScenario(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "BACE1 investigation", "", "agent-a", nil, 4)
	require.NoError(t, err)

	status, err := store.JoinSession(ctx, id, "agent-b")
	require.NoError(t, err)
	require.Equal(t, Joined, status)

	f1, err := store.PostFinding(ctx, id, "agent-a", "BACE1 cleaves APP at the beta site",
		Evidence{Sources: []string{"PMID:99"}}, 0.85, "reviewed structural data")
	require.NoError(t, err)

	vStatus, err := store.ValidateFinding(ctx, id, f1, "agent-b", ValidationConfirmed, "consistent with assay", 0.8)
	require.NoError(t, err)
	require.Equal(t, Validated, vStatus)

	status, err = store.JoinSession(ctx, id, "agent-c")
	require.NoError(t, err)
	require.Equal(t, Joined, status)

	vStatus, err = store.ValidateFinding(ctx, id, f1, "agent-c", ValidationChallenged, "assay used wrong pH", 0.7)
	require.NoError(t, err)
	require.Equal(t, Validated, vStatus)

	state, err := store.GetSessionState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ClassDisputed, state.Classifications[f1])
	assert.Len(t, state.Session.Findings, 1)
	assert.Equal(t, 0.0, state.ConsensusRate)
}

func TestCompleteSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	t.Run("completes once", func(t *testing.T) {
		require.NoError(t, store.CompleteSession(ctx, id, "mechanism confirmed", "post-42"))

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusComplete, sess.Status)
		assert.Equal(t, "mechanism confirmed", sess.Summary)
		assert.Equal(t, "post-42", sess.ResultPostID)
	})

	t.Run("idempotent with the same summary", func(t *testing.T) {
		assert.NoError(t, store.CompleteSession(ctx, id, "mechanism confirmed", "post-42"))
	})

	t.Run("conflicting summary is rejected", func(t *testing.T) {
		assert.ErrorIs(t, store.CompleteSession(ctx, id, "different story", ""), ErrAlreadyClosed)
	})

	t.Run("closed session rejects new findings", func(t *testing.T) {
		_, err := store.PostFinding(ctx, id, "agent-a", "late finding", Evidence{}, 0.5, "")
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestClosedSessionRejectsMutations(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	_, err := store.JoinSession(ctx, id, "agent-b")
	require.NoError(t, err)
	findingID, err := store.PostFinding(ctx, id, "agent-a", "inhibitor binds site 2", Evidence{}, 0.9, "docked and scored")
	require.NoError(t, err)
	require.NoError(t, store.CompleteSession(ctx, id, "done", ""))

	t.Run("join", func(t *testing.T) {
		_, err := store.JoinSession(ctx, id, "agent-c")
		assert.ErrorIs(t, err, ErrSessionClosed)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.False(t, sess.HasParticipant("agent-c"))
	})

	t.Run("claim", func(t *testing.T) {
		_, err := store.ClaimInvestigation(ctx, id, "inv-structure", "agent-b")
		assert.ErrorIs(t, err, ErrSessionClosed)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, sess.ClaimedInvestigations)
	})

	t.Run("validate cannot reclassify a completed session", func(t *testing.T) {
		_, err := store.ValidateFinding(ctx, id, findingID, "agent-b", ValidationConfirmed, "late review", 0.9)
		assert.ErrorIs(t, err, ErrSessionClosed)

		state, err := store.GetSessionState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ClassUnderReview, state.Classifications[findingID])
	})

	t.Run("suggest", func(t *testing.T) {
		_, err := store.SuggestInvestigation(ctx, id, "agent-a", "one more angle", nil)
		assert.ErrorIs(t, err, ErrSessionClosed)
	})

	t.Run("abandoned session rejects joins too", func(t *testing.T) {
		abandoned := createTestSession(t, store, 4)
		require.NoError(t, store.AbandonSession(ctx, abandoned, "stale"))

		_, err := store.JoinSession(ctx, abandoned, "agent-b")
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestAbandonSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	t.Run("abandon is one-way and idempotent", func(t *testing.T) {
		id := createTestSession(t, store, 4)
		require.NoError(t, store.AbandonSession(ctx, id, "no progress in a week"))
		assert.NoError(t, store.AbandonSession(ctx, id, "no progress in a week"))
		assert.ErrorIs(t, store.AbandonSession(ctx, id, "other reason"), ErrAlreadyClosed)

		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusAbandoned, sess.Status)
	})

	t.Run("abandoned session cannot be completed", func(t *testing.T) {
		id := createTestSession(t, store, 4)
		require.NoError(t, store.AbandonSession(ctx, id, "stale"))
		assert.ErrorIs(t, store.CompleteSession(ctx, id, "summary", ""), ErrAlreadyClosed)
	})
}

func TestSuggestInvestigation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	t.Run("participant can suggest and claim the new investigation", func(t *testing.T) {
		invID, err := store.SuggestInvestigation(ctx, id, "agent-a", "check CRISPR knockout data", []string{"crispr"})
		require.NoError(t, err)

		result, err := store.ClaimInvestigation(ctx, id, invID, "agent-a")
		require.NoError(t, err)
		assert.Equal(t, Claimed, result.Status)
	})

	t.Run("non-participant cannot suggest", func(t *testing.T) {
		_, err := store.SuggestInvestigation(ctx, id, "agent-stranger", "anything", nil)
		assert.ErrorIs(t, err, ErrNotAParticipant)
	})
}

func TestCorruptSessionDocument(t *testing.T) {
	store, docs := setupStore(t)
	ctx := context.Background()
	id := createTestSession(t, store, 4)

	// Clobber the stored document with garbage that still decodes as JSON but
	// fails session validation.
	doc, err := docs.Get(ctx, id)
	require.NoError(t, err)
	_, err = docs.CompareAndSwap(ctx, id, doc.Version, []byte(`{"unexpected":"shape"}`))
	require.NoError(t, err)

	t.Run("reads degrade to not found instead of crashing", func(t *testing.T) {
		_, err := store.GetSessionState(ctx, id)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("mutations degrade to not found instead of crashing", func(t *testing.T) {
		_, err := store.JoinSession(ctx, id, "agent-z")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
