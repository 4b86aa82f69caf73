package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/azhengyongqin/dispatch-hub/internal/config"
	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/tasks"
	"github.com/azhengyongqin/dispatch-hub/internal/worker"
	"github.com/azhengyongqin/dispatch-hub/sdk"
)

func main() {
	// 先于 viper 读取 .env，保持与协调器一致的配置来源
	_ = godotenv.Load()

	if err := logger.Init(false); err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error().Err(err).Msg("加载配置失败")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.L.Error().Err(err).Msg("配置验证失败")
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	workerID := cfg.Worker.WorkerID
	if workerID == "" {
		// 未指定时生成稳定可读的 ID
		workerID = "worker-" + strings.Split(uuid.NewString(), "-")[0]
	}

	client := sdk.NewClient(cfg.Worker.CoordinatorURL)

	registry := worker.NewRegistry()
	if err := tasks.RegisterAll(registry, tasks.PrimeOptions{
		MaxLimit: int64(cfg.Worker.PrimesMaxLimit),
	}); err != nil {
		logger.L.Error().Err(err).Msg("注册任务执行器失败")
		os.Exit(1)
	}

	cacheStore, err := worker.NewSubmissionCache(cfg.Worker.CacheDir, workerID, cfg.Worker.CacheTTL)
	if err != nil {
		logger.L.Error().Err(err).Msg("创建结果缓存失败")
		os.Exit(1)
	}

	runner := worker.NewRunner(worker.Options{
		WorkerID:           workerID,
		PollInterval:       cfg.Worker.PollInterval,
		CacheRetryInterval: cfg.Worker.CacheRetryInterval,
	}, client, registry, cacheStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 心跳独立于任务执行：执行器卡住也不影响存活上报
	hb := sdk.NewHeartbeatManager(workerID, client, cfg.Worker.HeartbeatInterval)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.Start(ctx)
	}()

	// Run 在收到信号后做最后一次缓存排空再返回
	if err := runner.Run(ctx); err != nil {
		logger.L.Error().Err(err).Msg("worker 异常退出")
		os.Exit(1)
	}

	hb.Stop()
	wg.Wait()
}
