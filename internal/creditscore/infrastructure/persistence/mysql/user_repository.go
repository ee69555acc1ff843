package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/db"
	"gorm.io/gorm"
)

// userRepository 用户仓储实现
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) domain.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetActiveByUID(ctx context.Context, uid string) (*domain.User, error) {
	return r.first(ctx, "uid = ? AND active = ?", uid, true)
}

func (r *userRepository) GetByUID(ctx context.Context, uid string) (*domain.User, error) {
	return r.first(ctx, "uid = ?", uid)
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *userRepository) first(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var model UserModel
	if err := getDB(ctx, r.db).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storageErr("get user", err)
	}
	return toUser(&model), nil
}

// CreateIfAbsent 按 user_id 幂等创建
func (r *userRepository) CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error) {
	conn := getDB(ctx, r.db)

	var count int64
	if err := conn.Model(&UserModel{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		return false, storageErr("count user", err)
	}
	if count > 0 {
		return false, nil
	}

	model := toUserModel(user)
	if err := conn.Create(model).Error; err != nil {
		if !db.IsDuplicateKey(err) {
			return false, storageErr("create user", err)
		}
		// 并发注册同一 user_id 视为已存在，uid 被其他用户占用则报错
		if _, getErr := r.GetByID(ctx, user.ID); getErr == nil {
			return false, nil
		}
		return false, fmt.Errorf("%w: uid %s already registered", domain.ErrInvalidArgument, user.UID)
	}
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return true, nil
}

// UpdateScore 更新分数（带乐观锁）
func (r *userRepository) UpdateScore(ctx context.Context, user *domain.User, newScore int64) error {
	currentVersion := user.Version
	result := getDB(ctx, r.db).Model(&UserModel{}).
		Where("user_id = ? AND version = ?", user.ID, currentVersion).
		Updates(map[string]any{
			"credit_score": newScore,
			"version":      currentVersion + 1,
		})
	if result.Error != nil {
		return storageErr("update score", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}

	user.CreditScore = newScore
	user.Version = currentVersion + 1
	return nil
}

func (r *userRepository) SetActive(ctx context.Context, userID string, active bool) error {
	return r.updateFlag(ctx, userID, "active", active)
}

func (r *userRepository) SetEligibleReviewer(ctx context.Context, userID string, eligible bool) error {
	return r.updateFlag(ctx, userID, "eligible_reviewer", eligible)
}

func (r *userRepository) updateFlag(ctx context.Context, userID, column string, value bool) error {
	result := getDB(ctx, r.db).Model(&UserModel{}).
		Where("user_id = ?", userID).
		Update(column, value)
	if result.Error != nil {
		return storageErr("update "+column, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) ListEligibleReviewerIDs(ctx context.Context, excludeUserID string) ([]string, error) {
	var ids []string
	err := getDB(ctx, r.db).Model(&UserModel{}).
		Where("eligible_reviewer = ? AND active = ? AND user_id <> ?", true, true, excludeUserID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storageErr("list reviewers", err)
	}
	return ids, nil
}
