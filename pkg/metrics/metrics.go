// Package metrics 提供 Prometheus 指标集合与暴露端点
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credit"

// Metrics 指标集合，nil 接收者上的方法均为空操作
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec

	// 信用分变更次数，按类型与结果区分
	ScoreChangesTotal *prometheus.CounterVec
	// 生成的风控审核单数量
	RiskReviewsCreatedTotal prometheus.Counter
	// 因审核人不足而失败的次数
	CommitteeFailuresTotal prometheus.Counter
	// 乐观锁冲突重试次数
	ConcurrentRetriesTotal prometheus.Counter
	// 发件箱转发结果
	OutboxPublishedTotal *prometheus.CounterVec
	// 用户生命周期事件处理结果
	LifecycleEventsTotal *prometheus.CounterVec
}

// New 创建指标实例并注册到独立 registry
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests",
		}, []string{"method", "code"}),
		ScoreChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "score_changes_total",
			Help:      "Credit score changes by kind and result",
		}, []string{"kind", "result"}),
		RiskReviewsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "risk_reviews_created_total",
			Help:      "Risk review records created",
		}),
		CommitteeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "committee_failures_total",
			Help:      "Debits aborted because the reviewer pool was too small",
		}),
		ConcurrentRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "concurrent_retries_total",
			Help:      "Score transactions retried after an optimistic lock conflict",
		}),
		OutboxPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "outbox_published_total",
			Help:      "Outbox messages relayed by result",
		}, []string{"result"}),
		LifecycleEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "lifecycle_events_total",
			Help:      "User lifecycle events consumed by type and result",
		}, []string{"event", "result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.ScoreChangesTotal,
		m.RiskReviewsCreatedTotal,
		m.CommitteeFailuresTotal,
		m.ConcurrentRetriesTotal,
		m.OutboxPublishedTotal,
		m.LifecycleEventsTotal,
	)
	return m
}

// Registry 返回指标 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 promhttp 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExposeHTTP 启动独立的指标 HTTP 服务，ctx 取消后关闭
func (m *Metrics) ExposeHTTP(ctx context.Context, port int, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server starting", "addr", srv.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGRPCRequest 记录 gRPC 请求
func (m *Metrics) RecordGRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// RecordScoreChange 记录一次信用分变更
func (m *Metrics) RecordScoreChange(kind, result string) {
	if m == nil {
		return
	}
	m.ScoreChangesTotal.WithLabelValues(kind, result).Inc()
}

// RecordReviewsCreated 记录生成的审核单数量
func (m *Metrics) RecordReviewsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RiskReviewsCreatedTotal.Add(float64(n))
}

// RecordCommitteeFailure 记录审核人不足
func (m *Metrics) RecordCommitteeFailure() {
	if m == nil {
		return
	}
	m.CommitteeFailuresTotal.Inc()
}

// RecordConcurrentRetry 记录乐观锁重试
func (m *Metrics) RecordConcurrentRetry() {
	if m == nil {
		return
	}
	m.ConcurrentRetriesTotal.Inc()
}

// RecordOutbox 记录发件箱转发结果
func (m *Metrics) RecordOutbox(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxPublishedTotal.WithLabelValues(result).Add(float64(n))
}

// RecordLifecycleEvent 记录用户生命周期事件处理结果
func (m *Metrics) RecordLifecycleEvent(event, result string) {
	if m == nil {
		return
	}
	m.LifecycleEventsTotal.WithLabelValues(event, result).Inc()
}
