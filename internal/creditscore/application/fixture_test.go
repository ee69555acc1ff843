package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/messaging"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/persistence/mysql"
	rediscache "github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/persistence/redis"
	"github.com/wyfcoding/creditledger/pkg/cache"
	"github.com/wyfcoding/creditledger/pkg/db"
	"github.com/wyfcoding/creditledger/pkg/metrics"
	"gorm.io/gorm"
)

// stepClock 每次调用前进一秒
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	db      *gorm.DB
	users   domain.UserRepository
	history domain.ScoreHistoryRepository
	reviews domain.RiskReviewRepository
	cache   domain.ScoreCache
	mr      *miniredis.Miniredis
	metrics *metrics.Metrics
	clock   *stepClock

	committee *ReviewCommitteeService
	ledger    *ScoreLedgerService
	query     *ScoreQueryService
	bonus     *BonusService
	sync      *UserSyncService
	service   *CreditScoreService
}

type fixtureOption func(*LedgerOptions, *fixtureDeps)

type fixtureDeps struct {
	users         domain.UserRepository
	history       domain.ScoreHistoryRepository
	publisher     domain.EventPublisher
	committeeSize int
}

func withFloor() fixtureOption {
	return func(o *LedgerOptions, _ *fixtureDeps) { o.Policy.EnforceFloor = true }
}

func withCommitteeSize(n int) fixtureOption {
	return func(_ *LedgerOptions, d *fixtureDeps) { d.committeeSize = n }
}

func withUsers(wrap func(domain.UserRepository) domain.UserRepository) fixtureOption {
	return func(_ *LedgerOptions, d *fixtureDeps) { d.users = wrap(d.users) }
}

func withHistory(wrap func(domain.ScoreHistoryRepository) domain.ScoreHistoryRepository) fixtureOption {
	return func(_ *LedgerOptions, d *fixtureDeps) { d.history = wrap(d.history) }
}

func withPublisher(wrap func(domain.EventPublisher) domain.EventPublisher) fixtureOption {
	return func(_ *LedgerOptions, d *fixtureDeps) { d.publisher = wrap(d.publisher) }
}

// newFixture 基于内存 SQLite。单连接使所有事务串行执行，
// 乐观锁冲突路径由 staleReadUsers 与 conflictingUsers 构造
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	d, err := db.Init(db.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.AutoMigrate(append(mysql.Models(), &messaging.OutboxMessage{})...))

	mr := miniredis.RunT(t)
	rc := cache.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	f := &fixture{
		db:      d.DB,
		users:   mysql.NewUserRepository(d.DB),
		history: mysql.NewScoreHistoryRepository(d.DB),
		reviews: mysql.NewRiskReviewRepository(d.DB),
		cache:   rediscache.NewScoreCache(rc),
		mr:      mr,
		metrics: metrics.New("apptest"),
		clock:   &stepClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}

	lopts := LedgerOptions{
		Policy:     domain.DefaultRiskPolicy(),
		MaxRetries: 3,
		Now:        f.clock.Now,
		Metrics:    f.metrics,
	}
	deps := &fixtureDeps{
		users:         f.users,
		history:       f.history,
		publisher:     messaging.NewOutboxPublisher(d.DB),
		committeeSize: domain.DefaultCommitteeSize,
	}
	for _, opt := range opts {
		opt(&lopts, deps)
	}

	f.committee = NewReviewCommitteeService(deps.users, f.reviews, domain.NewCommitteeSelector(2026), deps.committeeSize, f.clock.Now)
	f.ledger = NewScoreLedgerService(
		mysql.NewTxManager(d.DB),
		deps.users,
		deps.history,
		f.committee,
		deps.publisher,
		f.cache,
		lopts,
	)
	f.query = NewScoreQueryService(f.users, f.history, f.cache, time.Minute)
	f.bonus = NewBonusService(f.ledger, f.users, f.history, 8, "payment method added")
	f.sync = NewUserSyncService(f.users, 10, f.metrics)
	f.service = NewCreditScoreService(f.ledger, f.query, f.bonus, f.sync)
	return f
}

func (f *fixture) seedUser(t *testing.T, id string, score int64, eligible bool) *domain.User {
	t.Helper()
	u := domain.NewUser(id, "uid-"+id, score, eligible)
	created, err := f.users.CreateIfAbsent(context.Background(), u)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (f *fixture) seedReviewers(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("reviewer-%02d", i)
		f.seedUser(t, ids[i], 100, true)
	}
	return ids
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (f *fixture) historyCount(t *testing.T, userID string) int64 {
	return f.count(t, &mysql.ScoreHistoryModel{}, "user_id = ?", userID)
}

func (f *fixture) reviewCount(t *testing.T, subjectID string) int64 {
	return f.count(t, &mysql.RiskReviewModel{}, "subject_id = ?", subjectID)
}

func (f *fixture) outboxCount(t *testing.T, topic string) int64 {
	return f.count(t, &messaging.OutboxMessage{}, "topic = ?", topic)
}

func (f *fixture) score(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.CreditScore
}
