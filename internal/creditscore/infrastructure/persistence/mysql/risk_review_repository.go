package mysql

import (
	"context"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"gorm.io/gorm"
)

// riskReviewRepository 审核单仓储实现
type riskReviewRepository struct {
	db *gorm.DB
}

// NewRiskReviewRepository 创建审核单仓储
func NewRiskReviewRepository(db *gorm.DB) domain.RiskReviewRepository {
	return &riskReviewRepository{db: db}
}

// CreateBatch 单次批量插入
func (r *riskReviewRepository) CreateBatch(ctx context.Context, reviews []*domain.RiskReview) error {
	if len(reviews) == 0 {
		return nil
	}
	models := make([]*RiskReviewModel, len(reviews))
	for i, rv := range reviews {
		models[i] = toReviewModel(rv)
	}
	if err := getDB(ctx, r.db).Create(&models).Error; err != nil {
		return storageErr("create reviews", err)
	}
	return nil
}

func (r *riskReviewRepository) ListBySubject(ctx context.Context, subjectID string) ([]*domain.RiskReview, error) {
	var models []*RiskReviewModel
	err := getDB(ctx, r.db).
		Where("subject_id = ? AND deleted = ?", subjectID, false).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, storageErr("list reviews", err)
	}
	reviews := make([]*domain.RiskReview, len(models))
	for i, m := range models {
		reviews[i] = toReview(m)
	}
	return reviews, nil
}
