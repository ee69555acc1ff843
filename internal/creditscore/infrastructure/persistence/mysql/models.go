package mysql

import (
	"time"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"gorm.io/gorm"
)

// UserModel 用户写模型
type UserModel struct {
	gorm.Model
	UserID           string `gorm:"column:user_id;type:varchar(36);uniqueIndex;not null;comment:内部用户ID"`
	UID              string `gorm:"column:uid;type:varchar(64);uniqueIndex;not null;comment:对外用户ID"`
	CreditScore      int64  `gorm:"column:credit_score;not null;default:0;comment:当前信用分"`
	EligibleReviewer bool   `gorm:"column:eligible_reviewer;not null;default:false;index:idx_users_reviewer_pool,priority:1;comment:是否可担任审核人"`
	Active           bool   `gorm:"column:active;not null;index:idx_users_reviewer_pool,priority:2;comment:是否未登出"`
	Version          int64  `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

func (UserModel) TableName() string { return "users" }

// ScoreHistoryModel 信用分流水
type ScoreHistoryModel struct {
	gorm.Model
	HistoryID      string  `gorm:"column:history_id;type:varchar(36);uniqueIndex;not null;comment:流水ID"`
	UserID         string  `gorm:"column:user_id;type:varchar(36);not null;index:idx_history_user_created,priority:1;uniqueIndex:uk_history_user_idem,priority:1;comment:用户ID"`
	Delta          int64   `gorm:"column:delta;not null;comment:变更幅度"`
	Kind           string  `gorm:"column:kind;type:varchar(10);not null;comment:credit/debit"`
	Reason         string  `gorm:"column:reason;type:varchar(255);not null;default:'';comment:变更原因"`
	IdempotencyKey *string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex:uk_history_user_idem,priority:2;comment:幂等键"`
}

func (ScoreHistoryModel) TableName() string { return "credit_score_histories" }

// RiskReviewModel 风控审核单，软删除使用 deleted 标志而非 gorm.DeletedAt
type RiskReviewModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	ReviewID   string    `gorm:"column:review_id;type:varchar(36);uniqueIndex;not null;comment:审核单ID"`
	ReviewerID string    `gorm:"column:reviewer_id;type:varchar(36);index;not null;comment:审核人"`
	SubjectID  string    `gorm:"column:subject_id;type:varchar(36);index;not null;comment:被审核人"`
	Status     string    `gorm:"column:status;type:varchar(20);not null;default:'pending';comment:状态"`
	FlagLifted bool      `gorm:"column:flag_lifted;not null;default:false;comment:是否解除风险标记"`
	Reason     string    `gorm:"column:reason;type:varchar(255);not null;default:'';comment:原因"`
	Deleted    bool      `gorm:"column:deleted;not null;default:false;comment:软删除"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (RiskReviewModel) TableName() string { return "user_risk_reviews" }

// Models 需要自动迁移的全部模型
func Models() []any {
	return []any{&UserModel{}, &ScoreHistoryModel{}, &RiskReviewModel{}}
}

func toUserModel(u *domain.User) *UserModel {
	return &UserModel{
		Model: gorm.Model{
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		},
		UserID:           u.ID,
		UID:              u.UID,
		CreditScore:      u.CreditScore,
		EligibleReviewer: u.EligibleReviewer,
		Active:           u.Active,
		Version:          u.Version,
	}
}

func toUser(m *UserModel) *domain.User {
	return &domain.User{
		ID:               m.UserID,
		UID:              m.UID,
		CreditScore:      m.CreditScore,
		EligibleReviewer: m.EligibleReviewer,
		Active:           m.Active,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toHistoryModel(e *domain.ScoreHistoryEntry) *ScoreHistoryModel {
	m := &ScoreHistoryModel{
		Model:     gorm.Model{CreatedAt: e.CreatedAt, UpdatedAt: e.CreatedAt},
		HistoryID: e.ID,
		UserID:    e.UserID,
		Delta:     e.Delta,
		Kind:      string(e.Kind),
		Reason:    e.Reason,
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		m.IdempotencyKey = &key
	}
	return m
}

func toHistory(m *ScoreHistoryModel) *domain.ScoreHistoryEntry {
	e := &domain.ScoreHistoryEntry{
		ID:        m.HistoryID,
		UserID:    m.UserID,
		Delta:     m.Delta,
		Kind:      domain.ChangeKind(m.Kind),
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
	if m.IdempotencyKey != nil {
		e.IdempotencyKey = *m.IdempotencyKey
	}
	return e
}

func toReviewModel(r *domain.RiskReview) *RiskReviewModel {
	return &RiskReviewModel{
		ReviewID:   r.ID,
		ReviewerID: r.ReviewerID,
		SubjectID:  r.SubjectID,
		Status:     string(r.Status),
		FlagLifted: r.FlagLifted,
		Reason:     r.Reason,
		Deleted:    r.Deleted,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.CreatedAt,
	}
}

func toReview(m *RiskReviewModel) *domain.RiskReview {
	return &domain.RiskReview{
		ID:         m.ReviewID,
		ReviewerID: m.ReviewerID,
		SubjectID:  m.SubjectID,
		Status:     domain.ReviewStatus(m.Status),
		FlagLifted: m.FlagLifted,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
		Deleted:    m.Deleted,
	}
}
