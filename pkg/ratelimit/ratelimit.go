// Package ratelimit 提供基于 Redis GCRA 的分布式限流。
// 同一调用方共享一个令牌桶，积分变更类请求按 WriteCost 加权计费，查询按 1 计费。
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/creditledger/pkg/config"
)

const keyPrefix = "creditledger:"

// Scope 限流键的接入面
type Scope string

const (
	ScopeHTTP Scope = "http"
	ScopeGRPC Scope = "grpc"
)

// Key 生成调用方的限流键
func Key(scope Scope, subject string) string {
	if subject == "" {
		subject = "unknown"
	}
	return keyPrefix + string(scope) + ":" + subject
}

// SubjectFromAddr 去掉对端地址中的端口，同一主机的多条连接共用一个桶
func SubjectFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Limit 令牌桶规则，Rate<=0 表示不限流
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 rate 次；burst 小于 rate 时按 rate 取值
func PerSecond(rate, burst int) Limit {
	if burst < rate {
		burst = rate
	}
	return Limit{Rate: rate, Period: time.Second, Burst: burst}
}

// Unlimited 规则是否放行一切请求
func (l Limit) Unlimited() bool {
	return l.Rate <= 0 || l.Period <= 0
}

// Policy 读写分级的限流策略
type Policy struct {
	Limit     Limit
	WriteCost int
}

// PolicyFromConfig 由配置构造策略。
// WriteCost 被限制在 [1, Burst] 内，超过桶容量的计费永远无法通过。
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	p := Policy{Limit: PerSecond(cfg.QPS, cfg.Burst), WriteCost: cfg.WriteCost}
	if p.WriteCost < 1 {
		p.WriteCost = 1
	}
	if !p.Limit.Unlimited() && p.WriteCost > p.Limit.Burst {
		p.WriteCost = p.Limit.Burst
	}
	return p
}

// Cost 单次请求消耗的令牌数
func (p Policy) Cost(write bool) int {
	if write {
		return p.WriteCost
	}
	return 1
}

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RateLimiter 限流器接口
type RateLimiter interface {
	// AllowN 在 limit 规则下为 key 扣除 n 个令牌
	AllowN(ctx context.Context, key string, limit Limit, n int) (*Result, error)
}

// RedisRateLimiter 基于 redis_rate 的实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 RedisRateLimiter
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// AllowN 实现 RateLimiter；不限流的规则不访问 Redis
func (r *RedisRateLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (*Result, error) {
	if limit.Unlimited() {
		return &Result{Allowed: true, Remaining: limit.Burst, RetryAfter: -1}, nil
	}
	if n < 1 {
		n = 1
	}
	res, err := r.limiter.AllowN(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	}, n)
	if err != nil {
		return nil, fmt.Errorf("rate limit check for %s: %w", key, err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}
