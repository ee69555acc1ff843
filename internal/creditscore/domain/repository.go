package domain

import (
	"context"
	"time"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	// GetActiveByUID 按对外 ID 查询未登出用户，不存在返回 ErrUserNotFound
	GetActiveByUID(ctx context.Context, uid string) (*User, error)
	// GetByUID 按对外 ID 查询用户，不区分登录状态
	GetByUID(ctx context.Context, uid string) (*User, error)
	// GetByID 按内部 ID 查询用户
	GetByID(ctx context.Context, userID string) (*User, error)
	// CreateIfAbsent 按内部 ID 幂等创建用户，已存在时返回 false
	CreateIfAbsent(ctx context.Context, user *User) (bool, error)
	// UpdateScore 带版本校验地更新分数，冲突返回 ErrConcurrentUpdate
	UpdateScore(ctx context.Context, user *User, newScore int64) error
	// SetActive 更新登录状态
	SetActive(ctx context.Context, userID string, active bool) error
	// SetEligibleReviewer 更新审核资格
	SetEligibleReviewer(ctx context.Context, userID string, eligible bool) error
	// ListEligibleReviewerIDs 列出可担任审核人的活跃用户，排除 excludeUserID，按 user_id 排序
	ListEligibleReviewerIDs(ctx context.Context, excludeUserID string) ([]string, error)
}

// HistoryFilter 流水查询条件
type HistoryFilter struct {
	UserID string
	// 为空表示不过滤
	Kind   ChangeKind
	Offset int
	Limit  int
}

// ScoreHistoryRepository 信用分流水仓储接口，只追加
type ScoreHistoryRepository interface {
	// Append 追加流水，幂等键冲突返回 ErrDuplicateChange
	Append(ctx context.Context, entry *ScoreHistoryEntry) error
	// ExistsByIdempotencyKey 是否已存在该幂等键的流水
	ExistsByIdempotencyKey(ctx context.Context, userID, key string) (bool, error)
	// List 按创建时间升序分页查询
	List(ctx context.Context, filter HistoryFilter) ([]*ScoreHistoryEntry, int64, error)
}

// RiskReviewRepository 风控审核单仓储接口
type RiskReviewRepository interface {
	// CreateBatch 批量写入审核单
	CreateBatch(ctx context.Context, reviews []*RiskReview) error
	// ListBySubject 查询某用户的全部审核单
	ListBySubject(ctx context.Context, subjectID string) ([]*RiskReview, error)
}

// TxManager 事务管理器：fn 返回 nil 提交，返回错误或 panic 时回滚
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScoreCache 当前分数缓存。Set 按用户版本号比较写入，旧版本不会覆盖新版本
type ScoreCache interface {
	Get(ctx context.Context, uid string) (int64, bool, error)
	// Set 仅当缓存中不存在或版本更旧时写入，返回是否写入
	Set(ctx context.Context, uid string, score, version int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, uid string) error
}

// EventPublisher 领域事件发布接口，实现需在调用方事务内落库
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
