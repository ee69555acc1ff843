package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/contextx"
	"gorm.io/gorm"
)

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxMessage 发件箱消息
type OutboxMessage struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	EventID   string     `gorm:"column:event_id;type:varchar(36);uniqueIndex;not null"`
	Topic     string     `gorm:"column:topic;type:varchar(100);index;not null"`
	Key       string     `gorm:"column:msg_key;type:varchar(64);not null;default:''"`
	Payload   string     `gorm:"column:payload;type:text;not null"`
	Status    string     `gorm:"column:status;type:varchar(20);index;not null;default:'pending'"`
	Attempts  int        `gorm:"column:attempts;not null;default:0"`
	LastError string     `gorm:"column:last_error;type:varchar(512);not null;default:''"`
	SentAt    *time.Time `gorm:"column:sent_at"`
	CreatedAt time.Time  `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "credit_outbox_messages"
}

// OutboxPublisher 以 Outbox 模式发布领域事件：消息与业务数据写在同一事务中
type OutboxPublisher struct {
	db *gorm.DB
}

// NewOutboxPublisher 创建新的 OutboxPublisher
func NewOutboxPublisher(db *gorm.DB) *OutboxPublisher {
	return &OutboxPublisher{db: db}
}

var _ domain.EventPublisher = (*OutboxPublisher)(nil)

// Publish 序列化事件并写入发件箱
func (p *OutboxPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	now := time.Now().UTC()
	message := OutboxMessage{
		EventID:   uuid.NewString(),
		Topic:     topic,
		Key:       key,
		Payload:   string(payload),
		Status:    OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.getDB(ctx).Create(&message).Error; err != nil {
		return fmt.Errorf("%w: write outbox: %v", domain.ErrStorageFailure, err)
	}
	return nil
}

func (p *OutboxPublisher) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return p.db.WithContext(ctx)
}
