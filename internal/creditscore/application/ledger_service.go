package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/metrics"
	"github.com/wyfcoding/creditledger/pkg/utils"
)

const (
	retryInitialDelay = 10 * time.Millisecond
	retryMaxDelay     = 200 * time.Millisecond
)

// LedgerOptions 账本可选配置
type LedgerOptions struct {
	Policy  domain.RiskPolicy
	Now     func() time.Time
	Metrics *metrics.Metrics

	// 乐观锁冲突时整个事务的最大尝试次数
	MaxRetries int

	// 提交后回写当前分缓存的有效期
	CacheTTL time.Duration
}

// ScoreLedgerService 信用分账本，是唯一修改信用分与写入流水的入口
type ScoreLedgerService struct {
	txm       domain.TxManager
	users     domain.UserRepository
	history   domain.ScoreHistoryRepository
	committee *ReviewCommitteeService
	publisher domain.EventPublisher
	cache     domain.ScoreCache

	policy     domain.RiskPolicy
	maxRetries int
	cacheTTL   time.Duration
	now        func() time.Time
	newID      func() string
	metrics    *metrics.Metrics
}

// NewScoreLedgerService 创建账本服务，cache 可为 nil
func NewScoreLedgerService(
	txm domain.TxManager,
	users domain.UserRepository,
	history domain.ScoreHistoryRepository,
	committee *ReviewCommitteeService,
	publisher domain.EventPublisher,
	cache domain.ScoreCache,
	opts LedgerOptions,
) *ScoreLedgerService {
	if opts.Policy.Threshold == 0 {
		opts.Policy.Threshold = domain.DefaultRiskThreshold
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ScoreLedgerService{
		txm:        txm,
		users:      users,
		history:    history,
		committee:  committee,
		publisher:  publisher,
		cache:      cache,
		policy:     opts.Policy,
		maxRetries: opts.MaxRetries,
		cacheTTL:   opts.CacheTTL,
		now:        opts.Now,
		newID:      uuid.NewString,
		metrics:    opts.Metrics,
	}
}

// ApplyScoreChange 在单个事务内完成：加载用户、必要时组建复核委员会、更新分数、追加流水、写入发件箱。
// 任一步失败整体回滚；乐观锁冲突时整体重试
func (s *ScoreLedgerService) ApplyScoreChange(ctx context.Context, cmd ApplyScoreChangeCommand) (*ScoreChangeResult, error) {
	kind, err := domain.ParseChangeKind(cmd.Kind)
	if err != nil {
		s.metrics.RecordScoreChange(cmd.Kind, resultLabel(err))
		return nil, err
	}
	change := domain.ScoreChange{
		UID:            cmd.UID,
		Delta:          cmd.Delta,
		Kind:           kind,
		Reason:         cmd.Reason,
		IdempotencyKey: cmd.IdempotencyKey,
	}
	if err := change.Validate(); err != nil {
		s.metrics.RecordScoreChange(string(kind), resultLabel(err))
		return nil, err
	}

	var (
		result  *ScoreChangeResult
		version int64
	)
	err = utils.RetryWithBackoff(ctx, s.maxRetries, retryInitialDelay, retryMaxDelay, isRetryable, func(attempt int) error {
		if attempt > 1 {
			s.metrics.RecordConcurrentRetry()
			slog.WarnContext(ctx, "retrying score change after concurrent update", "uid", change.UID, "attempt", attempt)
		}
		var applyErr error
		result, version, applyErr = s.applyOnce(ctx, change)
		return applyErr
	})
	s.metrics.RecordScoreChange(string(kind), resultLabel(err))
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientReviewers) {
			s.metrics.RecordCommitteeFailure()
		}
		slog.ErrorContext(ctx, "failed to apply score change",
			"uid", change.UID, "kind", kind, "delta", change.Delta, "error", err)
		return nil, err
	}

	s.refreshCache(ctx, change.UID, result.NewScore, version)
	s.metrics.RecordReviewsCreated(result.ReviewsCreated)

	slog.InfoContext(ctx, "score change applied",
		"uid", change.UID,
		"kind", kind,
		"delta", change.Delta,
		"old_score", result.OldScore,
		"new_score", result.NewScore,
		"reviews_created", result.ReviewsCreated,
	)
	return result, nil
}

// applyOnce 执行一次事务，返回结果与提交后的用户版本号
func (s *ScoreLedgerService) applyOnce(ctx context.Context, change domain.ScoreChange) (*ScoreChangeResult, int64, error) {
	var (
		result  *ScoreChangeResult
		version int64
	)
	err := s.txm.WithinTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetActiveByUID(txCtx, change.UID)
		if err != nil {
			return err
		}

		if change.IdempotencyKey != "" {
			exists, err := s.history.ExistsByIdempotencyKey(txCtx, user.ID, change.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: key %s", domain.ErrDuplicateChange, change.IdempotencyKey)
			}
		}

		oldScore := user.CreditScore
		projected := user.Apply(change.Kind, change.Delta)

		var reviews []*domain.RiskReview
		if change.Kind == domain.ChangeKindDebit {
			if err := s.policy.CheckFloor(projected); err != nil {
				return err
			}
			// 在扣减之前、同一事务内生成审核单
			if s.policy.RequiresReview(change.Kind, projected) {
				reviews, err = s.committee.SelectCommittee(txCtx, user.ID, change.Reason)
				if err != nil {
					return err
				}
			}
		}

		if err := s.users.UpdateScore(txCtx, user, projected); err != nil {
			return err
		}
		version = user.Version

		now := s.now().UTC()
		entry := &domain.ScoreHistoryEntry{
			ID:             s.newID(),
			UserID:         user.ID,
			Delta:          change.Delta,
			Kind:           change.Kind,
			Reason:         change.Reason,
			IdempotencyKey: change.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := s.history.Append(txCtx, entry); err != nil {
			return err
		}

		if err := s.publishEvents(txCtx, user, entry, oldScore, projected, reviews, now); err != nil {
			return err
		}

		result = &ScoreChangeResult{
			Success:        true,
			Message:        changeMessage(change.Kind, len(reviews)),
			UserID:         user.ID,
			UID:            user.UID,
			HistoryID:      entry.ID,
			OldScore:       oldScore,
			NewScore:       projected,
			ReviewsCreated: len(reviews),
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, version, nil
}

func (s *ScoreLedgerService) publishEvents(
	ctx context.Context,
	user *domain.User,
	entry *domain.ScoreHistoryEntry,
	oldScore, newScore int64,
	reviews []*domain.RiskReview,
	now time.Time,
) error {
	if s.publisher == nil {
		return nil
	}

	if err := s.publisher.Publish(ctx, domain.TopicScoreChanged, user.UID, domain.ScoreChangedEvent{
		HistoryID:  entry.ID,
		UserID:     user.ID,
		UID:        user.UID,
		Kind:       entry.Kind,
		Delta:      entry.Delta,
		Reason:     entry.Reason,
		OldScore:   oldScore,
		NewScore:   newScore,
		OccurredAt: now,
	}); err != nil {
		return err
	}

	if len(reviews) == 0 {
		return nil
	}
	reviewIDs := make([]string, len(reviews))
	reviewerIDs := make([]string, len(reviews))
	for i, r := range reviews {
		reviewIDs[i] = r.ID
		reviewerIDs[i] = r.ReviewerID
	}
	return s.publisher.Publish(ctx, domain.TopicRiskReviewRequested, user.UID, domain.RiskReviewRequestedEvent{
		SubjectID:   user.ID,
		UID:         user.UID,
		ReviewIDs:   reviewIDs,
		ReviewerIDs: reviewerIDs,
		Reason:      entry.Reason,
		Projected:   newScore,
		Threshold:   s.policy.Threshold,
		OccurredAt:  now,
	})
}

// refreshCache 提交后按新版本回写缓存，并发读取写入的旧版本会被拒绝；回写失败时删除缓存
func (s *ScoreLedgerService) refreshCache(ctx context.Context, uid string, score, version int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Set(ctx, uid, score, version, s.cacheTTL); err != nil {
		slog.WarnContext(ctx, "failed to refresh score cache", "uid", uid, "error", err)
		if err := s.cache.Invalidate(ctx, uid); err != nil {
			slog.WarnContext(ctx, "failed to invalidate score cache", "uid", uid, "error", err)
		}
	}
}

func changeMessage(kind domain.ChangeKind, reviews int) string {
	if reviews > 0 {
		return fmt.Sprintf("credit score %sed; risk review requested from %d reviewers", kind, reviews)
	}
	return fmt.Sprintf("credit score %sed", kind)
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdate)
}

// resultLabel 指标结果标签
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, domain.ErrInsufficientReviewers):
		return "insufficient_reviewers"
	case errors.Is(err, domain.ErrInsufficientScore):
		return "insufficient_score"
	case errors.Is(err, domain.ErrDuplicateChange):
		return "duplicate"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return "concurrent_update"
	default:
		return "error"
	}
}
