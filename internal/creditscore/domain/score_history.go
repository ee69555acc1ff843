package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ChangeKind 信用分变更类型
type ChangeKind string

const (
	ChangeKindCredit ChangeKind = "credit" // 加分
	ChangeKindDebit  ChangeKind = "debit"  // 扣分
)

// ParseChangeKind 解析变更类型，大小写不敏感
func ParseChangeKind(s string) (ChangeKind, error) {
	switch k := ChangeKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ChangeKindCredit, ChangeKindDebit:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown change kind %q", ErrInvalidArgument, s)
	}
}

// Valid 是否为合法类型
func (k ChangeKind) Valid() bool {
	return k == ChangeKindCredit || k == ChangeKindDebit
}

// ScoreHistoryEntry 信用分变更流水，创建后不可修改
type ScoreHistoryEntry struct {
	ID     string
	UserID string
	// 变更幅度，恒为正
	Delta  int64
	Kind   ChangeKind
	Reason string
	// 幂等键，为空表示不做幂等控制
	IdempotencyKey string
	CreatedAt      time.Time
}

// Signed 返回带符号的变更值
func (e *ScoreHistoryEntry) Signed() int64 {
	if e.Kind == ChangeKindDebit {
		return -e.Delta
	}
	return e.Delta
}

// 与存储列宽一致，按字符计数
const (
	MaxReasonLength         = 255
	MaxIdempotencyKeyLength = 64
)

// ScoreChange 一次信用分变更请求
type ScoreChange struct {
	UID    string
	Delta  int64
	Kind   ChangeKind
	Reason string
	// 可选幂等键
	IdempotencyKey string
}

// Validate 校验变更请求
func (c ScoreChange) Validate() error {
	if strings.TrimSpace(c.UID) == "" {
		return fmt.Errorf("%w: uid is required", ErrInvalidArgument)
	}
	if c.Delta <= 0 {
		return fmt.Errorf("%w: delta must be positive, got %d", ErrInvalidArgument, c.Delta)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown change kind %q", ErrInvalidArgument, c.Kind)
	}
	if n := utf8.RuneCountInString(c.Reason); n > MaxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters, got %d", ErrInvalidArgument, MaxReasonLength, n)
	}
	if n := utf8.RuneCountInString(c.IdempotencyKey); n > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: idempotency key exceeds %d characters, got %d", ErrInvalidArgument, MaxIdempotencyKeyLength, n)
	}
	return nil
}

var maxDelta = decimal.NewFromInt(math.MaxInt64)

// DeltaFromDecimal 将传输层的数值转换为变更幅度，必须为正整数
func DeltaFromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: delta must be positive, got %s", ErrInvalidArgument, d.String())
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: delta must be a whole number, got %s", ErrInvalidArgument, d.String())
	}
	if d.GreaterThan(maxDelta) {
		return 0, fmt.Errorf("%w: delta out of range", ErrInvalidArgument)
	}
	return d.IntPart(), nil
}
