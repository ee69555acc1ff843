package domain

import "time"

// ReviewStatus 风控审核状态，pending 之后的终态由外部审核流程维护
type ReviewStatus string

const (
	ReviewStatusPending ReviewStatus = "pending"
)

// RiskReview 风控审核单
// 同一批次内审核人互不相同且不等于被审核人
type RiskReview struct {
	ID         string
	ReviewerID string
	SubjectID  string
	Status     ReviewStatus
	FlagLifted bool
	Reason     string
	CreatedAt  time.Time
	Deleted    bool
}

// NewRiskReviews 为选中的审核人生成待处理审核单
func NewRiskReviews(newID func() string, subjectID string, reviewerIDs []string, reason string, now time.Time) []*RiskReview {
	reviews := make([]*RiskReview, 0, len(reviewerIDs))
	for _, reviewerID := range reviewerIDs {
		reviews = append(reviews, &RiskReview{
			ID:         newID(),
			ReviewerID: reviewerID,
			SubjectID:  subjectID,
			Status:     ReviewStatusPending,
			Reason:     reason,
			CreatedAt:  now,
		})
	}
	return reviews
}
