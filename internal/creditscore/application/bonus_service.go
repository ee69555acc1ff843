package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
)

const (
	// BonusIdempotencyKey 绑定支付方式奖励的幂等键
	BonusIdempotencyKey = "bonus:payment-method"

	DefaultBonusDelta  int64 = 8
	DefaultBonusReason       = "payment method added"
)

// BonusService 一次性奖励，每个用户至多生效一次
type BonusService struct {
	ledger  *ScoreLedgerService
	users   domain.UserRepository
	history domain.ScoreHistoryRepository
	delta   int64
	reason  string
}

// NewBonusService 创建奖励服务
func NewBonusService(ledger *ScoreLedgerService, users domain.UserRepository, history domain.ScoreHistoryRepository, delta int64, reason string) *BonusService {
	if delta <= 0 {
		delta = DefaultBonusDelta
	}
	if reason == "" {
		reason = DefaultBonusReason
	}
	return &BonusService{ledger: ledger, users: users, history: history, delta: delta, reason: reason}
}

// GrantOneTimeBonus 发放绑定支付方式奖励。
// 先做存在性快速检查；并发下由流水表 (user_id, idempotency_key) 唯一约束兜底
func (s *BonusService) GrantOneTimeBonus(ctx context.Context, uid string) (*BonusResult, error) {
	user, err := s.users.GetActiveByUID(ctx, uid)
	if err != nil {
		return nil, err
	}

	exists, err := s.history.ExistsByIdempotencyKey(ctx, user.ID, BonusIdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return alreadyGranted(user.CreditScore), nil
	}

	res, err := s.ledger.ApplyScoreChange(ctx, ApplyScoreChangeCommand{
		UID:            uid,
		Delta:          s.delta,
		Kind:           string(domain.ChangeKindCredit),
		Reason:         s.reason,
		IdempotencyKey: BonusIdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateChange) {
			slog.InfoContext(ctx, "bonus granted concurrently", "uid", uid)
			current, getErr := s.users.GetByUID(ctx, uid)
			if getErr != nil {
				return nil, getErr
			}
			return alreadyGranted(current.CreditScore), nil
		}
		return nil, err
	}

	return &BonusResult{
		Success:  true,
		Message:  "bonus granted",
		Granted:  true,
		NewScore: res.NewScore,
	}, nil
}

func alreadyGranted(score int64) *BonusResult {
	return &BonusResult{Success: true, Message: "bonus already granted", NewScore: score}
}
