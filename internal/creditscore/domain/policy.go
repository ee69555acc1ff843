package domain

import "fmt"

const (
	// DefaultRiskThreshold 低于该分数的扣分需要人工复核
	DefaultRiskThreshold int64 = 8
	// DefaultCommitteeSize 审核委员会人数
	DefaultCommitteeSize = 5
)

// RiskPolicy 风控规则
type RiskPolicy struct {
	// 阈值为开区间：projected < Threshold 才触发复核
	Threshold int64
	// 为 true 时拒绝把分数扣到 0 以下
	EnforceFloor bool
}

// DefaultRiskPolicy 默认规则
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{Threshold: DefaultRiskThreshold}
}

// RequiresReview 扣分后的预计分数是否需要复核
func (p RiskPolicy) RequiresReview(kind ChangeKind, projected int64) bool {
	return kind == ChangeKindDebit && projected < p.Threshold
}

// CheckFloor 校验下限
func (p RiskPolicy) CheckFloor(projected int64) error {
	if p.EnforceFloor && projected < 0 {
		return fmt.Errorf("%w: score would drop to %d", ErrInsufficientScore, projected)
	}
	return nil
}
