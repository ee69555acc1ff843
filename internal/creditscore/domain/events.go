package domain

import "time"

const (
	// TopicScoreChanged 信用分变更事件主题
	TopicScoreChanged = "credit.score.changed"
	// TopicRiskReviewRequested 风控复核请求事件主题
	TopicRiskReviewRequested = "credit.risk.review_requested"
)

// ScoreChangedEvent 信用分已变更
type ScoreChangedEvent struct {
	HistoryID  string     `json:"history_id"`
	UserID     string     `json:"user_id"`
	UID        string     `json:"uid"`
	Kind       ChangeKind `json:"kind"`
	Delta      int64      `json:"delta"`
	Reason     string     `json:"reason"`
	OldScore   int64      `json:"old_score"`
	NewScore   int64      `json:"new_score"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// RiskReviewRequestedEvent 扣分跌破阈值，已生成复核委员会
type RiskReviewRequestedEvent struct {
	SubjectID   string    `json:"subject_id"`
	UID         string    `json:"uid"`
	ReviewIDs   []string  `json:"review_ids"`
	ReviewerIDs []string  `json:"reviewer_ids"`
	Reason      string    `json:"reason"`
	Projected   int64     `json:"projected_score"`
	Threshold   int64     `json:"threshold"`
	OccurredAt  time.Time `json:"occurred_at"`
}
