package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/creditledger/pkg/config"
	"github.com/wyfcoding/creditledger/pkg/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// isReadMethod 不改变积分的 HTTP 方法
func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RateLimitMiddleware 基于客户端 IP 的 Gin 限流中间件，写请求按 WriteCost 计费，限流器故障时放行
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	policy := ratelimit.PolicyFromConfig(cfg)
	return func(c *gin.Context) {
		if !cfg.Enabled || limiter == nil || policy.Limit.Unlimited() {
			c.Next()
			return
		}

		key := ratelimit.Key(ratelimit.ScopeHTTP, c.ClientIP())
		res, err := limiter.AllowN(c.Request.Context(), key, policy.Limit, policy.Cost(!isReadMethod(c.Request.Method)))
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rate limiter unavailable, failing open", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			c.Header("Retry-After", retryAfterSeconds(res.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"message":     "too many requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}

// retryAfterSeconds 向上取整，避免客户端在桶未恢复前立即重试
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// GRPCRateLimitInterceptor 基于对端主机的 gRPC 限流拦截器，isWrite 判定的方法按 WriteCost 计费
func GRPCRateLimitInterceptor(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig, isWrite func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	policy := ratelimit.PolicyFromConfig(cfg)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !cfg.Enabled || limiter == nil || policy.Limit.Unlimited() {
			return handler(ctx, req)
		}

		var subject string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			subject = ratelimit.SubjectFromAddr(p.Addr.String())
		}
		write := isWrite != nil && isWrite(info.FullMethod)
		res, err := limiter.AllowN(ctx, ratelimit.Key(ratelimit.ScopeGRPC, subject), policy.Limit, policy.Cost(write))
		if err != nil {
			slog.WarnContext(ctx, "rate limiter unavailable, failing open", "error", err)
			return handler(ctx, req)
		}
		if !res.Allowed {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry after %s", res.RetryAfter)
		}
		return handler(ctx, req)
	}
}
