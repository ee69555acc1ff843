// Package utils 提供分页与重试等通用工具
package utils

import (
	"context"
	"time"
)

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
	// 总页数
	Pages int64 `json:"pages"`
}

// NewPagination 创建分页对象，page 从 1 开始
func NewPagination(page, pageSize int, total int64) *Pagination {
	p := &Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.Pages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return p
}

// Offset 返回查询偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit 返回查询条数
func (p *Pagination) Limit() int {
	return p.PageSize
}

// RetryWithBackoff 以指数退避重试 fn，最多 maxAttempts 次。
// retryable 为 nil 时所有错误都会重试；返回 false 的错误立即返回。
func RetryWithBackoff(ctx context.Context, maxAttempts int, initialDelay, maxDelay time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := initialDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
