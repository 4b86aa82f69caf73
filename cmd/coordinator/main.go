package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/azhengyongqin/dispatch-hub/docs" // Swagger docs
	"github.com/azhengyongqin/dispatch-hub/internal/cache"
	"github.com/azhengyongqin/dispatch-hub/internal/config"
	"github.com/azhengyongqin/dispatch-hub/internal/healthcheck"
	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/monitor"
	httpserver "github.com/azhengyongqin/dispatch-hub/internal/server"
	"github.com/azhengyongqin/dispatch-hub/internal/storage/postgres"
	"github.com/azhengyongqin/dispatch-hub/internal/storage/sqlite"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// @title Dispatch-Hub API
// @version 1.0.0
// @description 分布式任务队列协调器 - 租约式认领、checkpoint 恢复、死亡 worker 回收
// @license.name MIT
// @BasePath /api/v1
// @schemes http https
// @host localhost:28080

func main() {
	// 初始化结构化日志（开发模式）
	if err := logger.Init(false); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger.L.Fatal().Err(err).Msg("加载配置失败")
	}

	// 验证配置
	if err := cfg.Validate(); err != nil {
		logger.L.Fatal().Err(err).Msg("配置验证失败")
	}
	logger.SetLevel(cfg.LogLevel)

	if cfg.TickTooCoarse() {
		logger.L.Warn().
			Dur("monitor_tick", cfg.Monitor.Tick).
			Dur("worker_dead_after", cfg.Monitor.WorkerDeadAfter).
			Msg("monitor_tick 偏大，建议不超过 worker_dead_after 的 1/5")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 打开存储：配置了 Postgres 就用 Postgres，否则 SQLite 单文件
	var st store.Store
	if cfg.Store.PostgresDSN != "" {
		st, err = postgres.Open(ctx, cfg.Store.PostgresDSN, postgres.DefaultDBConfig())
		if err != nil {
			logger.L.Fatal().Err(err).Msg("连接 Postgres 失败")
		}
		logger.L.Info().Msg("存储后端: postgres")
	} else {
		st, err = sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			logger.L.Fatal().Err(err).Str("path", cfg.Store.SQLitePath).Msg("打开 SQLite 失败")
		}
		logger.L.Info().Str("path", cfg.Store.SQLitePath).Msg("存储后端: sqlite")
	}
	defer st.Close()

	// 可选：/stats 的 Redis 读缓存
	var statsCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		statsCache, err = cache.NewRedisCache(cfg.Redis.Addr)
		if err != nil {
			// 缓存是锦上添花，连不上降级为直接回源
			logger.L.Warn().Err(err).Msg("Redis 不可用，/stats 不走缓存")
		} else {
			defer statsCache.Close()
		}
	}

	healthChecker := newHealthChecker(st, statsCache)

	// 监控循环：死亡 worker 清扫 + 租约回收
	mon := monitor.New(st, cfg.Monitor.Tick, cfg.Monitor.WorkerDeadAfter)
	go mon.Run(ctx)

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Store:         st,
			DefaultLease:  cfg.Lease.DefaultDuration,
			StatsCache:    statsCache,
			HealthChecker: healthChecker,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.L.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP 服务监听")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Fatal().Err(err).Msg("HTTP 服务错误")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	logger.L.Info().Msg("服务已优雅关闭")
}

func newHealthChecker(st store.Store, statsCache *cache.RedisCache) *healthcheck.HealthChecker {
	if statsCache != nil {
		return healthcheck.NewHealthChecker(st, statsCache.Client())
	}
	return healthcheck.NewHealthChecker(st, nil)
}
