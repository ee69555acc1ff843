package application

import "time"

// ApplyScoreChangeCommand 信用分变更命令
type ApplyScoreChangeCommand struct {
	UID    string
	Delta  int64
	Kind   string
	Reason string
	// 可选，非空时同一用户同一键只生效一次
	IdempotencyKey string
}

// ScoreChangeResult 变更结果
type ScoreChangeResult struct {
	Success        bool
	Message        string
	UserID         string
	UID            string
	HistoryID      string
	OldScore       int64
	NewScore       int64
	ReviewsCreated int
}

// ScoreHistoryQuery 流水分页查询
type ScoreHistoryQuery struct {
	UserID   string
	Page     int
	PageSize int
	// 为空表示全部类型
	Kind string
}

// ScoreHistoryDTO 流水传输对象
type ScoreHistoryDTO struct {
	HistoryID string    `json:"history_id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoreHistoryPage 流水分页结果
type ScoreHistoryPage struct {
	CreditScore int64              `json:"credit_score"`
	Total       int64              `json:"total"`
	Page        int                `json:"page"`
	PageSize    int                `json:"page_size"`
	Items       []*ScoreHistoryDTO `json:"items"`
}

// BonusResult 一次性奖励结果
type BonusResult struct {
	Success bool
	Message string
	// 本次调用是否实际加分
	Granted  bool
	NewScore int64
}

// LifecycleEvent 账户生命周期事件
type LifecycleEvent struct {
	Event            string `json:"event"`
	UserID           string `json:"user_id"`
	UID              string `json:"uid"`
	CreditScore      *int64 `json:"credit_score,omitempty"`
	EligibleReviewer *bool  `json:"eligible_reviewer,omitempty"`
}

const (
	EventUserRegistered             = "user.registered"
	EventUserLoggedOut              = "user.logged_out"
	EventUserReactivated            = "user.reactivated"
	EventReviewerEligibilityChanged = "user.reviewer_eligibility_changed"
)
