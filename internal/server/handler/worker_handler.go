package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/azhengyongqin/dispatch-hub/internal/server/dto"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// WorkerHandler Worker 相关 API Handler
type WorkerHandler struct {
	store store.Store
}

// NewWorkerHandler 创建 WorkerHandler
func NewWorkerHandler(s store.Store) *WorkerHandler {
	return &WorkerHandler{store: s}
}

// Heartbeat godoc
// @Summary Worker 心跳
// @Description 幂等 upsert worker 注册记录；不触碰任何任务
// @Tags Workers
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} dto.HeartbeatResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /workers/{worker_id}/heartbeat [post]
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	workerID := c.Param("worker_id")

	if err := h.store.Heartbeat(c.Request.Context(), workerID); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.HeartbeatResponse{
		Status:      "ok",
		WorkerID:    workerID,
		HeartbeatAt: time.Now().UTC(),
	})
}

// ListWorkers godoc
// @Summary 获取 Worker 列表
// @Description 列出所有 worker 注册记录及存活状态
// @Tags Workers
// @Produce json
// @Success 200 {object} dto.WorkerListResponse
// @Router /workers [get]
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	workers, err := h.store.ListWorkers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.WorkerListResponse{Items: workers})
}
