package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/creditledger/pkg/logger"
	"github.com/wyfcoding/creditledger/pkg/metrics"
	"github.com/wyfcoding/creditledger/pkg/mq"
	"gorm.io/gorm"
)

// RelayConfig 转发器配置
type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// 超过该次数的消息标记为 failed，不再重试
	MaxAttempts int
	// 已发送消息的保留时长
	Retention time.Duration
}

// OutboxRelay 轮询发件箱并经熔断器转发到 Kafka
type OutboxRelay struct {
	db        *gorm.DB
	publisher mq.Publisher
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Metrics
	cfg       RelayConfig
}

// NewOutboxRelay 创建转发器
func NewOutboxRelay(db *gorm.DB, publisher mq.Publisher, m *metrics.Metrics, cfg RelayConfig) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-kafka",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &OutboxRelay{db: db, publisher: publisher, breaker: breaker, metrics: m, cfg: cfg}
}

// Run 按间隔转发直到 ctx 取消
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	slog.Info("outbox relay started", "batch_size", r.cfg.BatchSize, "interval", r.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			}
		case <-cleanup.C:
			if err := r.Cleanup(ctx, time.Now().Add(-r.cfg.Retention)); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "outbox cleanup failed", "error", err)
			}
		}
	}
}

// ProcessOnce 转发一批待发送消息，返回成功条数。熔断打开时提前结束本批
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	var messages []OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("id ASC").
		Limit(r.cfg.BatchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range messages {
		msg := &messages[i]
		_, pubErr := r.breaker.Execute(func() (any, error) {
			return nil, r.publisher.SendRaw(ctx, msg.Topic, msg.Key, []byte(msg.Payload))
		})

		if pubErr == nil {
			if err := r.markSent(ctx, msg); err != nil {
				return sent, err
			}
			sent++
			continue
		}

		if errors.Is(pubErr, gobreaker.ErrOpenState) || errors.Is(pubErr, gobreaker.ErrTooManyRequests) {
			slog.WarnContext(ctx, "outbox relay paused by circuit breaker", "pending", len(messages)-i)
			break
		}
		if err := r.markFailedAttempt(ctx, msg, pubErr); err != nil {
			return sent, err
		}
	}

	r.metrics.RecordOutbox(OutboxStatusSent, sent)
	return sent, nil
}

func (r *OutboxRelay) markSent(ctx context.Context, msg *OutboxMessage) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(msg).Updates(map[string]any{
		"status":     OutboxStatusSent,
		"attempts":   msg.Attempts + 1,
		"sent_at":    &now,
		"last_error": "",
	}).Error
}

func (r *OutboxRelay) markFailedAttempt(ctx context.Context, msg *OutboxMessage, cause error) error {
	attempts := msg.Attempts + 1
	status := OutboxStatusPending
	if attempts >= r.cfg.MaxAttempts {
		status = OutboxStatusFailed
		r.metrics.RecordOutbox(OutboxStatusFailed, 1)
		slog.ErrorContext(ctx, "outbox message gave up", "event_id", msg.EventID, "topic", msg.Topic, "attempts", attempts, "error", cause)
	}

	errText := cause.Error()
	if len(errText) > 512 {
		errText = errText[:512]
	}
	return r.db.WithContext(ctx).Model(msg).Updates(map[string]any{
		"status":     status,
		"attempts":   attempts,
		"last_error": errText,
	}).Error
}

// Cleanup 删除 before 之前已发送的消息
func (r *OutboxRelay) Cleanup(ctx context.Context, before time.Time) error {
	defer logger.LogDuration(ctx, "outbox cleanup finished", "before", before)()
	return r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", OutboxStatusSent, before).
		Delete(&OutboxMessage{}).Error
}
