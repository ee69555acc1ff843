package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/utils"
)

// MaxPageSize 单页最大条数
const MaxPageSize = 100

// ScoreQueryService 只读查询，不开启写事务
type ScoreQueryService struct {
	users    domain.UserRepository
	history  domain.ScoreHistoryRepository
	cache    domain.ScoreCache
	cacheTTL time.Duration
}

// NewScoreQueryService 创建查询服务，cache 可为 nil
func NewScoreQueryService(
	users domain.UserRepository,
	history domain.ScoreHistoryRepository,
	cache domain.ScoreCache,
	cacheTTL time.Duration,
) *ScoreQueryService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ScoreQueryService{users: users, history: history, cache: cache, cacheTTL: cacheTTL}
}

// GetCurrentScore 查询当前信用分，先读缓存，缓存故障时降级到数据库。
// 回填缓存带用户版本号，读到的旧快照不会覆盖账本提交后写入的新值
func (s *ScoreQueryService) GetCurrentScore(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, fmt.Errorf("%w: uid is required", domain.ErrInvalidArgument)
	}

	if s.cache != nil {
		score, hit, err := s.cache.Get(ctx, uid)
		if err != nil {
			slog.WarnContext(ctx, "score cache read failed", "uid", uid, "error", err)
		} else if hit {
			return score, nil
		}
	}

	user, err := s.users.GetByUID(ctx, uid)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if _, err := s.cache.Set(ctx, uid, user.CreditScore, user.Version, s.cacheTTL); err != nil {
			slog.WarnContext(ctx, "score cache write failed", "uid", uid, "error", err)
		}
	}
	return user.CreditScore, nil
}

// GetScoreHistory 分页查询流水，按创建时间升序
func (s *ScoreQueryService) GetScoreHistory(ctx context.Context, q ScoreHistoryQuery) (*ScoreHistoryPage, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	if q.Page < 1 || q.PageSize < 1 {
		return nil, fmt.Errorf("%w: page and page_size must be >= 1", domain.ErrInvalidArgument)
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	var kind domain.ChangeKind
	if q.Kind != "" {
		k, err := domain.ParseChangeKind(q.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	user, err := s.users.GetByID(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	p := utils.NewPagination(q.Page, q.PageSize, 0)
	entries, total, err := s.history.List(ctx, domain.HistoryFilter{
		UserID: user.ID,
		Kind:   kind,
		Offset: p.Offset(),
		Limit:  p.Limit(),
	})
	if err != nil {
		return nil, err
	}

	items := make([]*ScoreHistoryDTO, len(entries))
	for i, e := range entries {
		items[i] = toHistoryDTO(e)
	}
	return &ScoreHistoryPage{
		CreditScore: user.CreditScore,
		Total:       total,
		Page:        q.Page,
		PageSize:    q.PageSize,
		Items:       items,
	}, nil
}

func toHistoryDTO(e *domain.ScoreHistoryEntry) *ScoreHistoryDTO {
	return &ScoreHistoryDTO{
		HistoryID: e.ID,
		UserID:    e.UserID,
		Delta:     e.Delta,
		Kind:      string(e.Kind),
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}
