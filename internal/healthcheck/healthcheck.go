package healthcheck

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	store       store.Store
	redisClient *redis.Client
}

// NewHealthChecker 创建健康检查器；redisClient 可以为 nil（未配置缓存时）
func NewHealthChecker(s store.Store, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{
		store:       s,
		redisClient: redisClient,
	}
}

// CheckResult 健康检查结果
type CheckResult struct {
	Status  string            `json:"status"` // "ok" or "error"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// LivenessCheck 存活检查（快速返回，不检查依赖）
func (h *HealthChecker) LivenessCheck() CheckResult {
	return CheckResult{
		Status: "ok",
		Checks: map[string]string{
			"service": "running",
		},
	}
}

// ReadinessCheck 就绪检查（检查所有依赖）
func (h *HealthChecker) ReadinessCheck(ctx context.Context) CheckResult {
	result := CheckResult{
		Checks: make(map[string]string),
	}

	// 检查存储连通性
	if h.store != nil {
		if err := h.checkStore(ctx); err != nil {
			result.Checks["store"] = "error: " + err.Error()
			result.Status = "error"
		} else {
			result.Checks["store"] = "ok"
		}
	}

	// 检查 Redis（仅在配置了统计缓存时）
	if h.redisClient != nil {
		if err := h.checkRedis(ctx); err != nil {
			result.Checks["redis"] = "error: " + err.Error()
			result.Status = "error"
		} else {
			result.Checks["redis"] = "ok"
		}
	}

	// 如果所有检查都通过
	if result.Status == "" {
		result.Status = "ok"
	}

	return result
}

// checkStore 检查存储连通性
func (h *HealthChecker) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return h.store.Ping(ctx)
}

// checkRedis 检查 Redis 连通性
func (h *HealthChecker) checkRedis(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return h.redisClient.Ping(ctx).Err()
}
