package domain

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// CommitteeSelector 从候选审核人中无放回地均匀抽取委员会成员
// 内部持有一个可注入种子的随机源，并发安全
type CommitteeSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCommitteeSelector 创建选择器，seed 为 0 时使用随机种子
func NewCommitteeSelector(seed uint64) *CommitteeSelector {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return NewCommitteeSelectorWithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// NewCommitteeSelectorWithRand 使用外部随机源创建选择器
func NewCommitteeSelectorWithRand(rng *rand.Rand) *CommitteeSelector {
	return &CommitteeSelector{rng: rng}
}

// Pick 从 candidates 中选出 n 个不同的成员。
// 对候选副本做部分 Fisher–Yates 洗牌，candidates 本身不被修改。
func (s *CommitteeSelector) Pick(candidates []string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: committee size must be positive, got %d", ErrInvalidArgument, n)
	}
	if len(candidates) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientReviewers, n, len(candidates))
	}

	pool := make([]string, len(candidates))
	copy(pool, candidates)

	s.mu.Lock()
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	s.mu.Unlock()

	return pool[:n:n], nil
}
