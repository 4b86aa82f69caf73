package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/azhengyongqin/dispatch-hub/internal/cache"
	"github.com/azhengyongqin/dispatch-hub/internal/healthcheck"
	"github.com/azhengyongqin/dispatch-hub/internal/middleware"
	"github.com/azhengyongqin/dispatch-hub/internal/server/handler"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

type Deps struct {
	// Store 任务生命周期存储（sqlite 或 postgres）
	Store store.Store

	// DefaultLease 认领时的默认租约时长
	DefaultLease time.Duration

	// StatsCache 可选：/stats 的 Redis 读缓存
	StatsCache *cache.RedisCache

	// HealthChecker 健康检查器
	HealthChecker *healthcheck.HealthChecker
}

// NewRouter 提供 Gin HTTP API
// @title Dispatch-Hub API
// @version 1.0.0
// @description 分布式任务队列协调器 API
// @BasePath /api/v1
// @schemes http https
func NewRouter(deps Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	// 全局中间件
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.PayloadSizeLimit(middleware.MaxPayloadSize))
	r.Use(middleware.CORSMiddleware())

	// 创建各个 handler 实例
	healthHandler := handler.NewHealthHandler(deps.HealthChecker)
	taskHandler := handler.NewTaskHandler(deps.Store, deps.DefaultLease)
	workerHandler := handler.NewWorkerHandler(deps.Store)
	statsHandler := handler.NewStatsHandler(deps.Store, deps.StatsCache)

	// 健康检查路由
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	// Prometheus metrics 端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger API 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API 路由
	api := r.Group("/api/v1")
	{
		// 客户端侧
		api.POST("/tasks", taskHandler.CreateTask)
		api.GET("/tasks/:task_id", middleware.ValidateTaskIDParam(), taskHandler.GetTask)
		api.GET("/stats", statsHandler.GetStats)

		// Worker 侧
		api.POST("/tasks/claim", taskHandler.ClaimTask)
		api.POST("/tasks/:task_id/result", middleware.ValidateTaskIDParam(), taskHandler.SubmitResult)
		api.POST("/tasks/:task_id/checkpoint", middleware.ValidateTaskIDParam(), taskHandler.SaveCheckpoint)

		api.GET("/workers", workerHandler.ListWorkers)
		api.POST("/workers/:worker_id/heartbeat", middleware.ValidateWorkerIDParam(), workerHandler.Heartbeat)
	}

	return r
}
