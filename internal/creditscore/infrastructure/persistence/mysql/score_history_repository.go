package mysql

import (
	"context"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/db"
	"gorm.io/gorm"
)

// scoreHistoryRepository 流水仓储实现
type scoreHistoryRepository struct {
	db *gorm.DB
}

// NewScoreHistoryRepository 创建流水仓储
func NewScoreHistoryRepository(db *gorm.DB) domain.ScoreHistoryRepository {
	return &scoreHistoryRepository{db: db}
}

func (r *scoreHistoryRepository) Append(ctx context.Context, entry *domain.ScoreHistoryEntry) error {
	model := toHistoryModel(entry)
	if err := getDB(ctx, r.db).Create(model).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return domain.ErrDuplicateChange
		}
		return storageErr("append history", err)
	}
	entry.CreatedAt = model.CreatedAt
	return nil
}

func (r *scoreHistoryRepository) ExistsByIdempotencyKey(ctx context.Context, userID, key string) (bool, error) {
	var count int64
	err := getDB(ctx, r.db).Model(&ScoreHistoryModel{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check idempotency key", err)
	}
	return count > 0, nil
}

func (r *scoreHistoryRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.ScoreHistoryEntry, int64, error) {
	scoped := func() *gorm.DB {
		q := getDB(ctx, r.db).Model(&ScoreHistoryModel{}).Where("user_id = ?", filter.UserID)
		if filter.Kind != "" {
			q = q.Where("kind = ?", string(filter.Kind))
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, storageErr("count history", err)
	}

	var models []*ScoreHistoryModel
	query := scoped()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, 0, storageErr("list history", err)
	}

	entries := make([]*domain.ScoreHistoryEntry, len(models))
	for i, m := range models {
		entries[i] = toHistory(m)
	}
	return entries, total, nil
}
