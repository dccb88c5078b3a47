package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/commerce/order/internal/client"
	"github.com/commerce/order/internal/config"
	"github.com/commerce/order/internal/handler"
	"github.com/commerce/order/internal/metrics"
	"github.com/commerce/order/internal/repository"
	"github.com/commerce/order/internal/service"
	"github.com/commerce/order/pkg/health"
	"github.com/commerce/order/pkg/logger"
	"github.com/commerce/order/pkg/response"
	"github.com/commerce/order/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, nil)
	log.Infof("starting service", map[string]interface{}{"port": cfg.HTTPPort})

	// 追踪
	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		log.WithError(err).Error("init tracing")
		os.Exit(1)
	}

	// 连接数据库
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.WithError(err).Error("open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.WithError(err).Error("ping database")
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisPingCtx, redisPingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisPingCancel()
	if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
		log.WithError(err).Error("ping redis")
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// 组装服务
	m := metrics.New()
	store := repository.NewStore(db)
	gateway := client.NewPaymentGateway(cfg.PaymentAuthURL, cfg.PaymentTimeout)
	retry := service.NewRetryPolicy(cfg.PaymentMaxAttempts, cfg.PaymentRetryBackoff, service.IsRetryableGatewayError)
	payments := service.NewPaymentService(store, gateway, retry, m, log)
	discounts := service.NewDiscountCalculatorFromConfig(cfg.Promo)
	orders := service.NewOrderService(store, discounts, payments, m, log,
		cfg.RequireIdempotencyKey, cfg.DefaultRestockQty)
	locker := service.NewRedisLocker(redisClient)
	loyalty := service.NewLoyaltyWorker(store, locker, cfg.Loyalty, m, log)

	// 定时积分发放
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Loyalty.Interval), func() {
		if _, err := loyalty.Run(ctx, cfg.Loyalty.Lookback); err != nil {
			log.WithError(err).Error("scheduled loyalty run")
		}
	}); err != nil {
		log.WithError(err).Error("schedule loyalty run")
		os.Exit(1)
	}
	scheduler.Start()
	loyalty.Loop.Tick()

	// 健康检查
	hc := health.New()
	hc.Register(health.NewPostgresChecker(db))
	hc.Register(health.NewRedisChecker(redisClient))
	hc.Register(health.NewLoopChecker("loyalty-worker", loyalty.Loop, 3*cfg.Loyalty.Interval))
	hc.SetReady(true)

	// HTTP 路由
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hc.Handler())
	mux.HandleFunc("/ready", hc.Handler())
	mux.Handle("/metrics", m.Handler())

	api := handler.New(orders, payments, loyalty, cfg.Loyalty.ManualLookback, log)
	api.Register(mux)

	root := response.RequestIDMiddleware(
		response.RecoveryMiddleware(log,
			tracing.HTTPMiddleware(mux)))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           root,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Infof("HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server")
			os.Exit(1)
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	hc.SetReady(false)
	cancel()

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Error("tracing shutdown")
	}
	log.Info("shutdown complete")
}
