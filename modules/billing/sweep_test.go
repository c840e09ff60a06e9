package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/courtside/modules/billing"
)

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	lapsed := now.Add(-time.Hour)
	running := now.Add(time.Hour)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	require.NoError(t, store.Create(ctx, &billing.Subscription{
		ID: uuid.New(), UserID: users[0], PlanType: "basic",
		Status: billing.StatusActive, StartsAt: now.AddDate(0, 0, -30), EndsAt: &lapsed,
	}))
	require.NoError(t, store.Create(ctx, &billing.Subscription{
		ID: uuid.New(), UserID: users[1], PlanType: "basic",
		Status: billing.StatusActive, StartsAt: now, EndsAt: &running,
	}))
	require.NoError(t, store.Create(ctx, &billing.Subscription{
		ID: uuid.New(), UserID: users[2], PlanType: "lifetime",
		Status: billing.StatusActive, StartsAt: now,
	}))

	sweeper := billing.NewSweeper(store,
		billing.WithSweeperClock(func() time.Time { return now }))

	expired, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	// A second run finds nothing left to expire.
	expired, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestSweeper_Run_StopsOnCancel(t *testing.T) {
	t.Parallel()

	sweeper := billing.NewSweeper(billing.NewMemoryStore(),
		billing.WithSweepInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sweeper.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
