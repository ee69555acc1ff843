package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
)

// ReviewCommitteeService 组建风控复核委员会并落库审核单
type ReviewCommitteeService struct {
	users    domain.UserRepository
	reviews  domain.RiskReviewRepository
	selector *domain.CommitteeSelector
	size     int
	now      func() time.Time
	newID    func() string
}

// NewReviewCommitteeService 创建委员会服务
func NewReviewCommitteeService(
	users domain.UserRepository,
	reviews domain.RiskReviewRepository,
	selector *domain.CommitteeSelector,
	size int,
	now func() time.Time,
) *ReviewCommitteeService {
	if size <= 0 {
		size = domain.DefaultCommitteeSize
	}
	if now == nil {
		now = time.Now
	}
	return &ReviewCommitteeService{
		users:    users,
		reviews:  reviews,
		selector: selector,
		size:     size,
		now:      now,
		newID:    uuid.NewString,
	}
}

// SelectCommittee 为 subjectUserID 选出委员会并在调用方事务中批量写入审核单。
// 候选人不足时返回 ErrInsufficientReviewers，不写入任何数据
func (s *ReviewCommitteeService) SelectCommittee(ctx context.Context, subjectUserID, reason string) ([]*domain.RiskReview, error) {
	candidates, err := s.users.ListEligibleReviewerIDs(ctx, subjectUserID)
	if err != nil {
		return nil, err
	}

	reviewerIDs, err := s.selector.Pick(candidates, s.size)
	if err != nil {
		return nil, err
	}

	reviews := domain.NewRiskReviews(s.newID, subjectUserID, reviewerIDs, reason, s.now().UTC())
	if err := s.reviews.CreateBatch(ctx, reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}
