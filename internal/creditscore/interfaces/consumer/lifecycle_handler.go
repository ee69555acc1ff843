package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/creditledger/internal/creditscore/application"
	"github.com/wyfcoding/creditledger/pkg/mq"
)

// LifecycleService 处理账户生命周期事件
type LifecycleService interface {
	HandleLifecycleEvent(ctx context.Context, evt application.LifecycleEvent) error
}

// UserLifecycleHandler 消费账户服务发出的生命周期事件，维护本地用户表。
// 返回错误的消息由消费者转入死信队列。
type UserLifecycleHandler struct {
	service LifecycleService
	logger  *slog.Logger
}

func NewUserLifecycleHandler(service LifecycleService, logger *slog.Logger) *UserLifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserLifecycleHandler{service: service, logger: logger}
}

func (h *UserLifecycleHandler) Handle(ctx context.Context, msg *mq.Message) error {
	var evt application.LifecycleEvent
	if err := msg.UnmarshalPayload(&evt); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal lifecycle event", "offset", msg.Offset, "error", err)
		return fmt.Errorf("decode lifecycle event: %w", err)
	}
	if evt.UserID == "" {
		evt.UserID = msg.Key
	}

	if err := h.service.HandleLifecycleEvent(ctx, evt); err != nil {
		h.logger.ErrorContext(ctx, "failed to apply lifecycle event",
			"event", evt.Event, "user_id", evt.UserID, "error", err)
		return err
	}
	return nil
}
