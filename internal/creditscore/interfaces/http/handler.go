package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/creditledger/internal/creditscore/application"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/logger"
)

const defaultPageSize = 20

// HealthCheck 依赖健康检查
type HealthCheck func(ctx context.Context) error

// CreditScoreHandler HTTP 处理器
type CreditScoreHandler struct {
	service *application.CreditScoreService
	health  HealthCheck
}

// NewCreditScoreHandler 创建 HTTP 处理器，health 可为 nil
func NewCreditScoreHandler(service *application.CreditScoreService, health HealthCheck) *CreditScoreHandler {
	return &CreditScoreHandler{service: service, health: health}
}

// RegisterRoutes 注册路由
func (h *CreditScoreHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Healthz)

	api := router.Group("/api/v1")
	{
		api.POST("/credit-scores/changes", h.ApplyScoreChange)
		api.GET("/credit-scores/:uid", h.GetCurrentScore)
		api.POST("/credit-scores/:uid/bonus", h.GrantOneTimeBonus)
		api.GET("/users/:user_id/credit-score-history", h.GetScoreHistory)
	}
}

// ApplyScoreChangeRequest 信用分变更请求，delta 可为数字或字符串
type ApplyScoreChangeRequest struct {
	UID    string          `json:"uid" binding:"required"`
	Delta  decimal.Decimal `json:"delta"`
	Kind   string          `json:"kind" binding:"required"`
	Reason string          `json:"reason"`

	// IdempotencyKey 可选，同一用户重复提交返回 409
	IdempotencyKey string `json:"idempotency_key"`
}

// ApplyScoreChange 变更信用分
func (h *CreditScoreHandler) ApplyScoreChange(c *gin.Context) {
	var req ApplyScoreChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	delta, err := domain.DeltaFromDecimal(req.Delta)
	if err != nil {
		h.writeError(c, err)
		return
	}

	res, err := h.service.ApplyScoreChange(c.Request.Context(), application.ApplyScoreChangeCommand{
		UID:            req.UID,
		Delta:          delta,
		Kind:           req.Kind,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         res.Success,
		"message":         res.Message,
		"credit_score":    res.NewScore,
		"reviews_created": res.ReviewsCreated,
	})
}

// GetCurrentScore 查询当前信用分
func (h *CreditScoreHandler) GetCurrentScore(c *gin.Context) {
	uid := c.Param("uid")
	score, err := h.service.GetCurrentScore(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "credit_score": score})
}

// GetScoreHistory 分页查询流水
func (h *CreditScoreHandler) GetScoreHistory(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := intQuery(c, "page_size", defaultPageSize)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid page_size")
		return
	}

	res, err := h.service.GetScoreHistory(c.Request.Context(), application.ScoreHistoryQuery{
		UserID:   c.Param("user_id"),
		Page:     page,
		PageSize: pageSize,
		Kind:     c.Query("kind"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GrantOneTimeBonus 发放一次性奖励
func (h *CreditScoreHandler) GrantOneTimeBonus(c *gin.Context) {
	res, err := h.service.GrantOneTimeBonus(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      res.Success,
		"message":      res.Message,
		"granted":      res.Granted,
		"credit_score": res.NewScore,
	})
}

// Healthz 健康检查
func (h *CreditScoreHandler) Healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CreditScoreHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}

// statusFor 领域错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientReviewers),
		errors.Is(err, domain.ErrInsufficientScore),
		errors.Is(err, domain.ErrDuplicateChange),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
