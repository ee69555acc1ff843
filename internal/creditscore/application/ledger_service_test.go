package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/messaging"
)

func TestDebitBelowThresholdCreatesCommittee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 10, true)
	f.seedReviewers(t, 7)

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
		UID: "uid-subject", Delta: 3, Kind: "debit", Reason: "late delivery",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(10), res.OldScore)
	assert.Equal(t, int64(7), res.NewScore)
	assert.Equal(t, 5, res.ReviewsCreated)
	assert.Equal(t, int64(7), f.score(t, "subject"))

	reviews, err := f.reviews.ListBySubject(ctx, "subject")
	require.NoError(t, err)
	require.Len(t, reviews, 5)
	seen := map[string]bool{}
	for _, r := range reviews {
		assert.NotEqual(t, "subject", r.ReviewerID)
		assert.False(t, seen[r.ReviewerID], "duplicate reviewer %s", r.ReviewerID)
		seen[r.ReviewerID] = true
		assert.Equal(t, domain.ReviewStatusPending, r.Status)
		assert.False(t, r.FlagLifted)
		assert.False(t, r.Deleted)
		assert.Equal(t, "late delivery", r.Reason)
	}

	entries, total, err := f.history.List(ctx, domain.HistoryFilter{UserID: "subject", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, domain.ChangeKindDebit, entries[0].Kind)
	assert.Equal(t, int64(3), entries[0].Delta)
	assert.Equal(t, "late delivery", entries[0].Reason)
	assert.Equal(t, res.HistoryID, entries[0].ID)

	assert.Equal(t, int64(1), f.outboxCount(t, domain.TopicScoreChanged))
	assert.Equal(t, int64(1), f.outboxCount(t, domain.TopicRiskReviewRequested))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.RiskReviewsCreatedTotal))
}

func TestCommitteeSizeIsConfiguredOnCommitteeService(t *testing.T) {
	f := newFixture(t, withCommitteeSize(3))
	ctx := context.Background()
	f.seedUser(t, "subject", 10, true)
	f.seedReviewers(t, 3)

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 3, Kind: "debit"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReviewsCreated)

	reviews, err := f.reviews.ListBySubject(ctx, "subject")
	require.NoError(t, err)
	assert.Len(t, reviews, 3)

	small := newFixture(t, withCommitteeSize(4))
	small.seedUser(t, "subject", 10, true)
	small.seedReviewers(t, 3)
	_, err = small.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 3, Kind: "debit"})
	assert.ErrorIs(t, err, domain.ErrInsufficientReviewers)
	assert.Equal(t, int64(10), small.score(t, "subject"))
}

func TestCreditAboveThresholdHasNoReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 50, false)
	f.seedReviewers(t, 5)

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
		UID: "uid-subject", Delta: 5, Kind: "credit", Reason: "on-time delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), res.NewScore)
	assert.Zero(t, res.ReviewsCreated)
	assert.Equal(t, int64(55), f.score(t, "subject"))
	assert.Equal(t, int64(1), f.historyCount(t, "subject"))
	assert.Zero(t, f.reviewCount(t, "subject"))
	assert.Equal(t, int64(1), f.outboxCount(t, domain.TopicScoreChanged))
	assert.Zero(t, f.outboxCount(t, domain.TopicRiskReviewRequested))
}

func TestCreditNeverTriggersReview(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", -20, false)

	res, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{
		UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "appeal",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-19), res.NewScore)
	assert.Zero(t, res.ReviewsCreated)
}

func TestThresholdIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 11, false)
	f.seedReviewers(t, 5)

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 3, Kind: "debit", Reason: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.NewScore)
	assert.Zero(t, res.ReviewsCreated)
	assert.Zero(t, f.reviewCount(t, "subject"))

	res, err = f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 1, Kind: "debit", Reason: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.NewScore)
	assert.Equal(t, 5, res.ReviewsCreated)
	assert.Equal(t, int64(5), f.reviewCount(t, "subject"))
}

func TestInsufficientReviewersRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 10, true)
	f.seedReviewers(t, 4)

	_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
		UID: "uid-subject", Delta: 3, Kind: "debit", Reason: "late delivery",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientReviewers)

	assert.Equal(t, int64(10), f.score(t, "subject"))
	assert.Zero(t, f.historyCount(t, "subject"))
	assert.Zero(t, f.reviewCount(t, "subject"))
	assert.Zero(t, f.count(t, &messaging.OutboxMessage{}, ""))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitteeFailuresTotal))
}

func TestInactiveReviewersAreNotSelected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "subject", 10, false)
	ids := f.seedReviewers(t, 6)
	require.NoError(t, f.users.SetActive(ctx, ids[0], false))
	require.NoError(t, f.users.SetActive(ctx, ids[1], false))

	_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 5, Kind: "debit", Reason: "x"})
	require.ErrorIs(t, err, domain.ErrInsufficientReviewers)

	require.NoError(t, f.users.SetActive(ctx, ids[0], true))
	_, err = f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 5, Kind: "debit", Reason: "x"})
	require.NoError(t, err)

	reviews, err := f.reviews.ListBySubject(ctx, "subject")
	require.NoError(t, err)
	for _, r := range reviews {
		assert.NotEqual(t, ids[1], r.ReviewerID)
	}
}

func TestUnknownOrLoggedOutUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "gone", 40, false)
	require.NoError(t, f.users.SetActive(ctx, "gone", false))

	for _, uid := range []string{"uid-nobody", "uid-gone"} {
		_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: uid, Delta: 1, Kind: "credit", Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrUserNotFound, uid)
	}
	assert.Equal(t, int64(40), f.score(t, "gone"))
	assert.Zero(t, f.historyCount(t, "gone"))
	assert.Zero(t, f.count(t, &messaging.OutboxMessage{}, ""))
}

func TestInvalidChangeIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 40, false)

	tests := []ApplyScoreChangeCommand{
		{UID: "uid-subject", Delta: 0, Kind: "credit"},
		{UID: "uid-subject", Delta: -1, Kind: "debit"},
		{UID: "uid-subject", Delta: 1, Kind: "refund"},
		{UID: "", Delta: 1, Kind: "credit"},
	}
	for _, cmd := range tests {
		_, err := f.ledger.ApplyScoreChange(context.Background(), cmd)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	assert.Zero(t, f.historyCount(t, "subject"))
}

func TestFloorEnforcement(t *testing.T) {
	f := newFixture(t, withFloor())
	ctx := context.Background()
	f.seedUser(t, "subject", 2, false)
	f.seedReviewers(t, 5)

	_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 3, Kind: "debit", Reason: "x"})
	require.ErrorIs(t, err, domain.ErrInsufficientScore)
	assert.Equal(t, int64(2), f.score(t, "subject"))
	assert.Zero(t, f.reviewCount(t, "subject"))

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 2, Kind: "debit", Reason: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewScore)
}

func TestNegativeScoresAllowedByDefault(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 2, false)
	f.seedReviewers(t, 5)

	res, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{UID: "uid-subject", Delta: 5, Kind: "debit", Reason: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), res.NewScore)
	assert.Equal(t, 5, res.ReviewsCreated)
}

func TestLedgerConsistency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const baseline = 30
	f.seedUser(t, "subject", baseline, false)
	f.seedReviewers(t, 6)

	rng := rand.New(rand.NewPCG(11, 13))
	successes := 0
	for i := 0; i < 40; i++ {
		kind := "credit"
		if rng.IntN(2) == 0 {
			kind = "debit"
		}
		_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
			UID: "uid-subject", Delta: int64(rng.IntN(9) + 1), Kind: kind, Reason: "mixed",
		})
		require.NoError(t, err)
		successes++
	}

	entries, total, err := f.history.List(ctx, domain.HistoryFilter{UserID: "subject"})
	require.NoError(t, err)
	assert.Equal(t, int64(successes), total)

	sum := int64(baseline)
	for _, e := range entries {
		sum += e.Signed()
	}
	assert.Equal(t, sum, f.score(t, "subject"))
}

func TestConcurrentCreditsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 100, false)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{
				UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "parallel",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100+workers), f.score(t, "subject"))
	assert.Equal(t, int64(workers), f.historyCount(t, "subject"))
}

// conflictingUsers 前 n 次 UpdateScore 返回乐观锁冲突
type conflictingUsers struct {
	domain.UserRepository
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingUsers) UpdateScore(ctx context.Context, u *domain.User, newScore int64) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return domain.ErrConcurrentUpdate
	}
	c.mu.Unlock()
	return c.UserRepository.UpdateScore(ctx, u, newScore)
}

func TestConcurrentUpdateIsRetried(t *testing.T) {
	f := newFixture(t, withUsers(func(r domain.UserRepository) domain.UserRepository {
		return &conflictingUsers{UserRepository: r, conflicts: 2}
	}))
	f.seedUser(t, "subject", 10, false)

	res, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{UID: "uid-subject", Delta: 4, Kind: "credit", Reason: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(14), res.NewScore)
	assert.Equal(t, int64(1), f.historyCount(t, "subject"))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ConcurrentRetriesTotal))
}

func TestConcurrentUpdateGivesUp(t *testing.T) {
	f := newFixture(t, withUsers(func(r domain.UserRepository) domain.UserRepository {
		return &conflictingUsers{UserRepository: r, conflicts: 10}
	}))
	f.seedUser(t, "subject", 10, false)

	_, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{UID: "uid-subject", Delta: 4, Kind: "credit", Reason: "x"})
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Equal(t, int64(10), f.score(t, "subject"))
	assert.Zero(t, f.historyCount(t, "subject"))
}

func TestHistoryUsesInjectedClock(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 10, false)

	_, err := f.ledger.ApplyScoreChange(context.Background(), ApplyScoreChangeCommand{UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "x"})
	require.NoError(t, err)

	entries, _, err := f.history.List(context.Background(), domain.HistoryFilter{UserID: "subject"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(time.Date(2026, 5, 1, 9, 0, 1, 0, time.UTC)), entries[0].CreatedAt)
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 10, false)
	cmd := ApplyScoreChangeCommand{UID: "uid-subject", Delta: 2, Kind: "credit", Reason: "promo", IdempotencyKey: "promo:2026"}

	_, err := f.ledger.ApplyScoreChange(context.Background(), cmd)
	require.NoError(t, err)
	_, err = f.ledger.ApplyScoreChange(context.Background(), cmd)
	require.ErrorIs(t, err, domain.ErrDuplicateChange)

	assert.Equal(t, int64(12), f.score(t, "subject"))
	assert.Equal(t, int64(1), f.historyCount(t, "subject"))
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "subject", 10, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 1, Kind: "credit", Reason: "x"})
	require.Error(t, err)
	assert.Equal(t, int64(10), f.score(t, "subject"))
	assert.Zero(t, f.historyCount(t, "subject"))
}

var errInjected = errors.New("injected failure")

// failingHistory Append 总是失败，此时审核单与分数更新已写入事务
type failingHistory struct {
	domain.ScoreHistoryRepository
}

func (failingHistory) Append(context.Context, *domain.ScoreHistoryEntry) error {
	return errInjected
}

// failingPublisher 指定主题发布失败，其余主题照常写入发件箱
type failingPublisher struct {
	domain.EventPublisher
	topic string
}

func (p failingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	if topic == p.topic {
		return errInjected
	}
	return p.EventPublisher.Publish(ctx, topic, key, event)
}

func TestLateFailureRollsBackReviewsAndScore(t *testing.T) {
	tests := []struct {
		name string
		opt  fixtureOption
	}{
		{"history append fails", withHistory(func(r domain.ScoreHistoryRepository) domain.ScoreHistoryRepository {
			return failingHistory{ScoreHistoryRepository: r}
		})},
		{"score event publish fails", withPublisher(func(p domain.EventPublisher) domain.EventPublisher {
			return failingPublisher{EventPublisher: p, topic: domain.TopicScoreChanged}
		})},
		{"review event publish fails", withPublisher(func(p domain.EventPublisher) domain.EventPublisher {
			return failingPublisher{EventPublisher: p, topic: domain.TopicRiskReviewRequested}
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opt)
			ctx := context.Background()
			f.seedUser(t, "subject", 10, false)
			f.seedReviewers(t, 5)

			_, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
				UID: "uid-subject", Delta: 3, Kind: "debit", Reason: "late delivery",
			})
			require.ErrorIs(t, err, errInjected)

			assert.Equal(t, int64(10), f.score(t, "subject"))
			assert.Zero(t, f.reviewCount(t, "subject"))
			assert.Zero(t, f.historyCount(t, "subject"))
			assert.Zero(t, f.count(t, &messaging.OutboxMessage{}, ""))

			u, err := f.users.GetByID(ctx, "subject")
			require.NoError(t, err)
			assert.Zero(t, u.Version)
			assert.Zero(t, testutil.ToFloat64(f.metrics.RiskReviewsCreatedTotal))
		})
	}
}

// staleReadUsers 第一次 GetActiveByUID 返回事先读取的旧快照，
// 模拟另一个事务在本事务读取之后提交
type staleReadUsers struct {
	domain.UserRepository
	mu    sync.Mutex
	stale *domain.User
}

func (r *staleReadUsers) GetActiveByUID(ctx context.Context, uid string) (*domain.User, error) {
	r.mu.Lock()
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return r.UserRepository.GetActiveByUID(ctx, uid)
}

func TestStaleReadAfterCommittedChangeIsRetried(t *testing.T) {
	stale := &staleReadUsers{}
	f := newFixture(t, withUsers(func(r domain.UserRepository) domain.UserRepository {
		stale.UserRepository = r
		return stale
	}))
	ctx := context.Background()
	f.seedUser(t, "subject", 10, false)

	snapshot, err := f.users.GetActiveByUID(ctx, "uid-subject")
	require.NoError(t, err)

	// 另一笔变更基于同一版本先行提交
	_, err = f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 5, Kind: "credit", Reason: "first"})
	require.NoError(t, err)
	stale.stale = snapshot

	res, err := f.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{UID: "uid-subject", Delta: 4, Kind: "credit", Reason: "second"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.OldScore)
	assert.Equal(t, int64(19), res.NewScore)
	assert.Equal(t, int64(19), f.score(t, "subject"))
	assert.Equal(t, int64(2), f.historyCount(t, "subject"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConcurrentRetriesTotal))
}
