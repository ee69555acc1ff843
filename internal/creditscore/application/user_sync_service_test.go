package application

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
)

func ptr[T any](v T) *T { return &v }

func TestUserSyncRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.HandleLifecycleEvent(ctx, LifecycleEvent{Event: EventUserRegistered, UserID: "id-1", UID: "u-1"}))
	u, err := f.users.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.CreditScore)
	assert.True(t, u.Active)
	assert.False(t, u.EligibleReviewer)

	// 重复注册不覆盖已有分数
	require.NoError(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserRegistered, UserID: "id-1", UID: "u-1", CreditScore: ptr[int64](99)}))
	u, err = f.users.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.CreditScore)

	require.NoError(t, f.sync.Handle(ctx, LifecycleEvent{
		Event: EventUserRegistered, UserID: "id-2", UID: "u-2", CreditScore: ptr[int64](50), EligibleReviewer: ptr(true),
	}))
	u, err = f.users.GetByID(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.CreditScore)
	assert.True(t, u.EligibleReviewer)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LifecycleEventsTotal.WithLabelValues(EventUserRegistered, "ok")))
}

func TestUserSyncLogoutBlocksScoreChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 20, false)

	require.NoError(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserLoggedOut, UserID: "subject"}))
	_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "x"})
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserReactivated, UserID: "subject"}))
	_, err = f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "x"})
	require.NoError(t, err)
}

func TestUserSyncReviewerEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "r1", 20, false)

	require.NoError(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventReviewerEligibilityChanged, UserID: "r1", EligibleReviewer: ptr(true)}))
	ids, err := f.users.ListEligibleReviewerIDs(ctx, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)

	err = f.sync.Handle(ctx, LifecycleEvent{Event: EventReviewerEligibilityChanged, UserID: "r1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUserSyncRejectsAndSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.sync.Handle(ctx, LifecycleEvent{Event: "user.avatar_changed", UserID: "x"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LifecycleEventsTotal.WithLabelValues("unknown", "skipped")))

	assert.ErrorIs(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserLoggedOut}), domain.ErrInvalidArgument)
	assert.ErrorIs(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserRegistered, UserID: "id-1"}), domain.ErrInvalidArgument)
	assert.ErrorIs(t, f.sync.Handle(ctx, LifecycleEvent{Event: EventUserLoggedOut, UserID: "ghost"}), domain.ErrUserNotFound)
}
