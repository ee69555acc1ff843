package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/metrics"
)

// UserSyncService 将外部账户生命周期事件同步到用户表，注册后不再修改信用分
type UserSyncService struct {
	users    domain.UserRepository
	baseline int64
	metrics  *metrics.Metrics
}

// NewUserSyncService 创建同步服务，baseline 为事件未携带初始分时的默认值
func NewUserSyncService(users domain.UserRepository, baseline int64, m *metrics.Metrics) *UserSyncService {
	return &UserSyncService{users: users, baseline: baseline, metrics: m}
}

// Handle 处理一条生命周期事件，未知事件忽略
func (s *UserSyncService) Handle(ctx context.Context, evt LifecycleEvent) error {
	if !knownEvent(evt.Event) {
		slog.WarnContext(ctx, "unknown lifecycle event, skipping", "event", evt.Event, "user_id", evt.UserID)
		s.metrics.RecordLifecycleEvent("unknown", "skipped")
		return nil
	}

	err := s.handle(ctx, evt)
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	s.metrics.RecordLifecycleEvent(evt.Event, result)
	return err
}

func knownEvent(event string) bool {
	switch event {
	case EventUserRegistered, EventUserLoggedOut, EventUserReactivated, EventReviewerEligibilityChanged:
		return true
	}
	return false
}

func (s *UserSyncService) handle(ctx context.Context, evt LifecycleEvent) error {
	if evt.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}

	switch evt.Event {
	case EventUserRegistered:
		if evt.UID == "" {
			return fmt.Errorf("%w: uid is required", domain.ErrInvalidArgument)
		}
		baseline := s.baseline
		if evt.CreditScore != nil {
			baseline = *evt.CreditScore
		}
		eligible := evt.EligibleReviewer != nil && *evt.EligibleReviewer

		created, err := s.users.CreateIfAbsent(ctx, domain.NewUser(evt.UserID, evt.UID, baseline, eligible))
		if err != nil {
			return err
		}
		if !created {
			slog.InfoContext(ctx, "user already registered, skipping", "user_id", evt.UserID)
			return nil
		}
		slog.InfoContext(ctx, "user registered", "user_id", evt.UserID, "uid", evt.UID, "baseline", baseline)
		return nil

	case EventUserLoggedOut:
		return s.users.SetActive(ctx, evt.UserID, false)

	case EventUserReactivated:
		return s.users.SetActive(ctx, evt.UserID, true)

	case EventReviewerEligibilityChanged:
		if evt.EligibleReviewer == nil {
			return fmt.Errorf("%w: eligible_reviewer is required", domain.ErrInvalidArgument)
		}
		return s.users.SetEligibleReviewer(ctx, evt.UserID, *evt.EligibleReviewer)
	}
	return nil
}
