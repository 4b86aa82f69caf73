package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/azhengyongqin/dispatch-hub/internal/cache"
	"github.com/azhengyongqin/dispatch-hub/internal/metrics"
	"github.com/azhengyongqin/dispatch-hub/internal/server/dto"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// statsCacheTTL /stats 读缓存有效期。统计是监控面板轮询的热端点，
// 短 TTL 够用且不影响一致性要求（统计本来就是快照）。
const statsCacheTTL = 2 * time.Second

// StatsHandler 全局统计 Handler
type StatsHandler struct {
	store store.Store
	cache *cache.RedisCache // 可选，nil 时直接回源
}

// NewStatsHandler 创建 StatsHandler
func NewStatsHandler(s store.Store, redisCache *cache.RedisCache) *StatsHandler {
	return &StatsHandler{store: s, cache: redisCache}
}

// GetStats godoc
// @Summary 全局统计
// @Description 按状态统计任务数量与 worker 存活情况
// @Tags Stats
// @Produce json
// @Success 200 {object} dto.StatsResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	key := cache.CacheKey("stats")

	if h.cache != nil {
		var cached dto.StatsResponse
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	stats, err := h.store.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	resp := dto.StatsResponse{
		Tasks:        map[string]int{},
		WorkersAlive: stats.WorkersAlive,
		WorkersDead:  stats.WorkersDead,
	}
	for status, n := range stats.TasksByStatus {
		resp.Tasks[string(status)] = n
	}

	metrics.UpdateWorkerGauges(stats.WorkersAlive, stats.WorkersDead)

	if h.cache != nil {
		_ = h.cache.Set(ctx, key, resp, statsCacheTTL)
	}

	c.JSON(http.StatusOK, resp)
}
