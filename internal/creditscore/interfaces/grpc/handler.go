package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/creditledger/internal/creditscore/application"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler 实现 CreditScoreServer
type Handler struct {
	service *application.CreditScoreService
}

// NewHandler 构造 gRPC 处理器
func NewHandler(service *application.CreditScoreService) *Handler {
	return &Handler{service: service}
}

var _ CreditScoreServer = (*Handler)(nil)

// ApplyScoreChange 变更信用分
func (h *Handler) ApplyScoreChange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	fields := req.GetFields()

	delta, err := deltaField(fields["delta"])
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := h.service.ApplyScoreChange(ctx, application.ApplyScoreChangeCommand{
		UID:            stringField(fields, "uid"),
		Delta:          delta,
		Kind:           stringField(fields, "kind"),
		Reason:         stringField(fields, "reason"),
		IdempotencyKey: stringField(fields, "idempotency_key"),
	})
	if err != nil {
		slog.WarnContext(ctx, "grpc apply_score_change failed", "error", err, "duration", time.Since(start))
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"success":         res.Success,
		"message":         res.Message,
		"credit_score":    res.NewScore,
		"reviews_created": res.ReviewsCreated,
	})
}

// GetCurrentScore 查询当前信用分
func (h *Handler) GetCurrentScore(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid := stringField(req.GetFields(), "uid")
	score, err := h.service.GetCurrentScore(ctx, uid)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"uid": uid, "credit_score": score})
}

// GetScoreHistory 分页查询流水
func (h *Handler) GetScoreHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	pageNum, err := intField(fields, "page", 1)
	if err != nil {
		return nil, toStatus(err)
	}
	pageSize, err := intField(fields, "page_size", 20)
	if err != nil {
		return nil, toStatus(err)
	}
	page, err := h.service.GetScoreHistory(ctx, application.ScoreHistoryQuery{
		UserID:   stringField(fields, "user_id"),
		Page:     pageNum,
		PageSize: pageSize,
		Kind:     stringField(fields, "kind"),
	})
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]any, len(page.Items))
	for i, it := range page.Items {
		items[i] = map[string]any{
			"history_id": it.HistoryID,
			"user_id":    it.UserID,
			"delta":      it.Delta,
			"kind":       it.Kind,
			"reason":     it.Reason,
			"created_at": it.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return structpb.NewStruct(map[string]any{
		"credit_score": page.CreditScore,
		"total":        page.Total,
		"page":         page.Page,
		"page_size":    page.PageSize,
		"items":        items,
	})
}

// GrantOneTimeBonus 发放一次性奖励
func (h *Handler) GrantOneTimeBonus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.service.GrantOneTimeBonus(ctx, stringField(req.GetFields(), "uid"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"success":      res.Success,
		"message":      res.Message,
		"granted":      res.Granted,
		"credit_score": res.NewScore,
	})
}

// toStatus 领域错误到 gRPC 状态码的映射
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUserNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientReviewers), errors.Is(err, domain.ErrInsufficientScore):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrentUpdate), errors.Is(err, domain.ErrDuplicateChange):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func stringField(fields map[string]*structpb.Value, key string) string {
	return fields[key].GetStringValue()
}

// intField 读取分页参数，必须为 int32 范围内的整数
func intField(fields map[string]*structpb.Value, key string, def int) (int, error) {
	v, ok := fields[key]
	if !ok {
		return def, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidArgument, key)
	}
	x := n.NumberValue
	if math.IsNaN(x) || x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a whole number, got %v", domain.ErrInvalidArgument, key, x)
	}
	return int(x), nil
}

// deltaField 接受数字或字符串形式的 delta
func deltaField(v *structpb.Value) (int64, error) {
	var d decimal.Decimal
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if math.IsNaN(k.NumberValue) || math.IsInf(k.NumberValue, 0) {
			return 0, fmt.Errorf("%w: delta must be finite", domain.ErrInvalidArgument)
		}
		d = decimal.NewFromFloat(k.NumberValue)
	case *structpb.Value_StringValue:
		parsed, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid delta %q", domain.ErrInvalidArgument, k.StringValue)
		}
		d = parsed
	}
	return domain.DeltaFromDecimal(d)
}
