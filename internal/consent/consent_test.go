package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
	"github.com/reviewlens/review-crawler/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestGrantFirstAcceptance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	svc := New(memory.New(), clk, zap.NewNop())

	rec, err := svc.Grant(ctx, review.ConsentSubmission{Accepted: true})
	require.NoError(t, err)
	assert.True(t, rec.Accepted)
	assert.Equal(t, clk.now, rec.AcceptedAt)
	assert.Equal(t, CurrentVersion, rec.Version)
	assert.False(t, rec.DisallowAcknowledged)
}

func TestGrantRejectsDecline(t *testing.T) {
	t.Parallel()
	svc := New(memory.New(), &fakeClock{}, zap.NewNop())

	_, err := svc.Grant(context.Background(), review.ConsentSubmission{Accepted: false})
	require.Error(t, err)
}

func TestGrantUpgradesDisallowAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	svc := New(memory.New(), clk, zap.NewNop())

	first, err := svc.Grant(ctx, review.ConsentSubmission{Accepted: true})
	require.NoError(t, err)

	// Later the user accepts a robots-disallowed path: the record is merged,
	// not replaced, so the original acceptance timestamp is preserved.
	clk.now = clk.now.Add(48 * time.Hour)
	upgraded, err := svc.Grant(ctx, review.ConsentSubmission{
		Accepted:         true,
		RobotsDisallowed: true,
		RobotsAccepted:   true,
	})
	require.NoError(t, err)
	assert.True(t, upgraded.DisallowAcknowledged)
	assert.Equal(t, first.AcceptedAt, upgraded.AcceptedAt)
}

func TestMaySkipPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1700000000, 0).UTC()}

	t.Run("no consent on file", func(t *testing.T) {
		t.Parallel()
		svc := New(memory.New(), clk, zap.NewNop())
		_, ok, err := svc.MaySkipPrompt(ctx, review.RobotsDecision{FetchedOK: true})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("consent and robots-allowed path", func(t *testing.T) {
		t.Parallel()
		svc := New(memory.New(), clk, zap.NewNop())
		_, err := svc.Grant(ctx, review.ConsentSubmission{Accepted: true})
		require.NoError(t, err)

		_, ok, err := svc.MaySkipPrompt(ctx, review.RobotsDecision{FetchedOK: true})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("disallowed path without acknowledgement forces prompt", func(t *testing.T) {
		t.Parallel()
		svc := New(memory.New(), clk, zap.NewNop())
		_, err := svc.Grant(ctx, review.ConsentSubmission{Accepted: true})
		require.NoError(t, err)

		_, ok, err := svc.MaySkipPrompt(ctx, review.RobotsDecision{FetchedOK: true, Disallowed: true})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("disallowed path with acknowledgement skips prompt", func(t *testing.T) {
		t.Parallel()
		svc := New(memory.New(), clk, zap.NewNop())
		_, err := svc.Grant(ctx, review.ConsentSubmission{
			Accepted:         true,
			RobotsDisallowed: true,
			RobotsAccepted:   true,
		})
		require.NoError(t, err)

		_, ok, err := svc.MaySkipPrompt(ctx, review.RobotsDecision{FetchedOK: true, Disallowed: true})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
