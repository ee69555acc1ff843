package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/creditledger/internal/creditscore/application"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/messaging"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/persistence/mysql"
	"github.com/wyfcoding/creditledger/internal/creditscore/infrastructure/persistence/redis"
	"github.com/wyfcoding/creditledger/internal/creditscore/interfaces/consumer"
	grpcserver "github.com/wyfcoding/creditledger/internal/creditscore/interfaces/grpc"
	httpserver "github.com/wyfcoding/creditledger/internal/creditscore/interfaces/http"
	"github.com/wyfcoding/creditledger/pkg/cache"
	"github.com/wyfcoding/creditledger/pkg/config"
	"github.com/wyfcoding/creditledger/pkg/db"
	"github.com/wyfcoding/creditledger/pkg/logger"
	"github.com/wyfcoding/creditledger/pkg/metrics"
	"github.com/wyfcoding/creditledger/pkg/middleware"
	"github.com/wyfcoding/creditledger/pkg/mq"
	"github.com/wyfcoding/creditledger/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var configPath = flag.String("config", "configs/creditscore/config.toml", "config file path")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
		Service:    cfg.ServiceName,
	}); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// 3. 初始化指标
	metricsImpl := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metricsImpl.ExposeHTTP(ctx, cfg.Metrics.Port, cfg.Metrics.Path) })
	}

	// 4. 初始化基础设施
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		Tracing:            cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(append(mysql.Models(), &messaging.OutboxMessage{})...); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	var (
		redisCache *cache.RedisCache
		scoreCache domain.ScoreCache
		limiter    ratelimit.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// 缓存与限流均可降级
			slog.Error("failed to init redis, running without cache", "error", err)
		} else {
			defer redisCache.Close()
			scoreCache = redis.NewScoreCache(redisCache)
			limiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		}
	}

	// 5. 初始化仓储
	users := mysql.NewUserRepository(database.DB)
	history := mysql.NewScoreHistoryRepository(database.DB)
	reviews := mysql.NewRiskReviewRepository(database.DB)
	txm := mysql.NewTxManager(database.DB)
	outboxPub := messaging.NewOutboxPublisher(database.DB)

	// 6. 初始化应用服务
	policy := domain.RiskPolicy{
		Threshold:    cfg.Credit.RiskThreshold,
		EnforceFloor: cfg.Credit.EnforceFloor,
	}
	committee := application.NewReviewCommitteeService(users, reviews,
		domain.NewCommitteeSelector(cfg.Credit.RandomSeed), cfg.Credit.CommitteeSize, nil)
	ledger := application.NewScoreLedgerService(txm, users, history, committee, outboxPub, scoreCache,
		application.LedgerOptions{
			Policy:     policy,
			MaxRetries: cfg.Credit.MaxRetries,
			CacheTTL:   time.Duration(cfg.Credit.CacheTTL) * time.Second,
			Metrics:    metricsImpl,
		})
	appService := application.NewCreditScoreService(
		ledger,
		application.NewScoreQueryService(users, history, scoreCache, time.Duration(cfg.Credit.CacheTTL)*time.Second),
		application.NewBonusService(ledger, users, history, cfg.Credit.BonusDelta, cfg.Credit.BonusReason),
		application.NewUserSyncService(users, cfg.Credit.DefaultBaseline, metricsImpl),
	)

	// 7. 消息队列
	if cfg.Kafka.Enabled {
		kafkaCfg := mq.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID,
			SessionTimeout: cfg.Kafka.SessionTimeout,
			MaxRetries:     cfg.Kafka.MaxRetries,
			RetryBackoff:   cfg.Kafka.RetryBackoff,
		}
		producer := mq.NewProducer(kafkaCfg)
		defer producer.Close()

		lifecycle := mq.NewConsumer(kafkaCfg, cfg.Kafka.UserLifecycleTopic).
			WithDeadLetterQueue(mq.NewDeadLetterQueue(producer, cfg.Kafka.UserLifecycleTopic+".dlq"))
		defer lifecycle.Close()
		lifecycleHandler := consumer.NewUserLifecycleHandler(appService, slog.Default())
		g.Go(func() error { return lifecycle.Run(ctx, lifecycleHandler.Handle) })

		if cfg.Outbox.Enabled {
			relay := messaging.NewOutboxRelay(database.DB, producer, metricsImpl, messaging.RelayConfig{
				BatchSize:    cfg.Outbox.BatchSize,
				PollInterval: cfg.Outbox.Interval(),
				MaxAttempts:  cfg.Outbox.MaxAttempts,
			})
			g.Go(func() error { return relay.Run(ctx) })
		}
	} else {
		slog.Warn("kafka disabled, outbox messages stay pending")
	}

	healthCheck := func(ctx context.Context) error {
		sqlDB, err := database.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if redisCache != nil {
			if err := redisCache.GetClient().Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	// 8. 初始化接口层
	// gRPC
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
		middleware.GRPCMetricsInterceptor(metricsImpl),
	}
	if limiter != nil && cfg.RateLimit.Enabled {
		interceptors = append(interceptors, middleware.GRPCRateLimitInterceptor(limiter, cfg.RateLimit, grpcserver.IsMutation))
	}
	grpcOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if cfg.GRPC.MaxConcurrentStreams > 0 {
		grpcOpts = append(grpcOpts, grpc.MaxConcurrentStreams(cfg.GRPC.MaxConcurrentStreams))
	}
	grpcSrv := grpc.NewServer(grpcOpts...)
	grpcserver.RegisterCreditScoreServer(grpcSrv, grpcserver.NewHandler(appService))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(metricsImpl),
	)
	if limiter != nil && cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))
	}
	httpserver.NewCreditScoreHandler(appService, healthCheck).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. 启动服务
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			return err
		}
		slog.Info("gRPC server starting", "addr", cfg.GRPC.Addr())
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 10. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down servers...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
