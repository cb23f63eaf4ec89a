package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlens/review-crawler/internal/review"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestSessionSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	sess := review.Session{
		SessionID:    "s-1",
		StartURL:     "https://shop.example/item/9/reviews",
		MaxPages:     25,
		MaxReviews:   1200,
		PagesCrawled: 2,
		Reviews: []review.Review{
			{ID: "r1", Text: "great battery life"},
			{ID: "r2", Text: "noisy motor"},
		},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, store.Put(ctx, sess))
	require.NoError(t, store.Close())

	// A new process sees the same record.
	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	got, err := reopened.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Equal(t, 2, got.PagesCrawled)
	assert.Len(t, got.Reviews, 2)
}

func TestUpdateWithoutSession(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	_, err := store.Update(context.Background(), func(s *review.Session) { s.Running = true })
	require.ErrorIs(t, err, review.ErrNoSession)
}

func TestUpdateAppliesMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Put(ctx, review.Session{SessionID: "s-2", MaxPages: 10}))
	updated, err := store.Update(ctx, func(s *review.Session) {
		s.PagesCrawled++
		s.Reviews = append(s.Reviews, review.Review{ID: "r1", Text: "sturdy handle"})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PagesCrawled)

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Reviews, 1)
}

func TestConsentRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetConsent(ctx)
	require.ErrorIs(t, err, review.ErrNoConsent)

	rec := review.ConsentRecord{
		Accepted:   true,
		AcceptedAt: time.Unix(1700000000, 0).UTC(),
		Version:    1,
	}
	require.NoError(t, store.PutConsent(ctx, rec))

	got, err := store.GetConsent(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCacheEntryUpsertAndPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	entry := review.CacheEntry{
		Key:      "fp-abc",
		StoredAt: time.Unix(1700000000, 0).UTC(),
		Payload: review.Summary{
			Pros:     []review.Aspect{{Label: "battery life", SupportCount: 4, ExampleIDs: []string{"r1"}}},
			NotePros: "",
			NoteCons: "No cons found",
		},
	}
	require.NoError(t, store.PutEntry(ctx, entry))

	got, err := store.GetEntry(ctx, "fp-abc")
	require.NoError(t, err)
	assert.Equal(t, entry.StoredAt, got.StoredAt)
	require.Len(t, got.Payload.Pros, 1)
	assert.Equal(t, "battery life", got.Payload.Pros[0].Label)

	// Upsert overwrites in place.
	entry.StoredAt = entry.StoredAt.Add(time.Hour)
	require.NoError(t, store.PutEntry(ctx, entry))
	got, err = store.GetEntry(ctx, "fp-abc")
	require.NoError(t, err)
	assert.Equal(t, entry.StoredAt, got.StoredAt)

	require.NoError(t, store.PurgeEntries(ctx))
	_, err = store.GetEntry(ctx, "fp-abc")
	require.ErrorIs(t, err, review.ErrCacheMiss)
}

func TestKeyHealthDefaultsToMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)

	h, err := store.GetKeyHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, review.KeyMissing, h.Status)

	require.NoError(t, store.PutKeyHealth(ctx, review.KeyHealth{
		Status:    review.KeyValid,
		Message:   "gemini key validated",
		CheckedAt: time.Unix(1700000000, 0).UTC(),
		Trigger:   "manual",
	}))
	h, err = store.GetKeyHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, review.KeyValid, h.Status)
	assert.Equal(t, "manual", h.Trigger)
}
