package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rookery-dev/rookery/pkg/docstore"
	"github.com/rookery-dev/rookery/pkg/session"
)

func setupStore(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(docstore.NewMemStore())
}

func TestResolveSessionID(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	id, err := store.CreateSession(ctx, "protein folding anomaly", "", "agent-a", nil, 5)
	require.NoError(t, err)

	t.Run("full UUID passes through after existence check", func(t *testing.T) {
		resolved, err := ResolveSessionID(ctx, store, id)
		require.NoError(t, err)
		require.Equal(t, id, resolved)
	})

	t.Run("full UUID that does not exist fails", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, store, "00000000-0000-0000-0000-000000000000")
		require.Error(t, err)
		require.Contains(t, err.Error(), "session not found")
	})

	t.Run("short prefix resolves unique match", func(t *testing.T) {
		resolved, err := ResolveSessionID(ctx, store, id[:8])
		require.NoError(t, err)
		require.Equal(t, id, resolved)
	})

	t.Run("prefix shorter than minimum is rejected", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, store, id[:4])
		require.Error(t, err)
		require.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("unmatched prefix returns NotFoundError", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, store, "zzzzzz")
		require.Error(t, err)
		require.True(t, IsNotFoundError(err))
	})
}

func TestResolveSessionIDAmbiguous(t *testing.T) {
	ctx := context.Background()

	// Seed documents with controlled IDs sharing a prefix. The prefix
	// scan only consults document IDs, not their contents.
	docs := docstore.NewMemStore()
	idA := "aabbcc11-0000-0000-0000-000000000000"
	idB := "aabbcc22-0000-0000-0000-000000000000"
	for _, id := range []string{idA, idB} {
		_, err := docs.CompareAndSwap(ctx, id, 0, []byte(`{}`))
		require.NoError(t, err)
	}
	store := session.NewStore(docs)

	_, err := ResolveSessionID(ctx, store, "aabbcc")
	require.Error(t, err)
	require.True(t, IsAmbiguousError(err))

	var ambErr *AmbiguousError
	require.ErrorAs(t, err, &ambErr)
	require.ElementsMatch(t, []string{idA, idB}, ambErr.Matches)

	msg := FormatAmbiguousError(ambErr)
	require.Contains(t, msg, "ambiguous short ID 'aabbcc' matches 2 sessions")
	require.Contains(t, msg, idA)
}
