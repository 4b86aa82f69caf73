package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/metrics"
	"github.com/azhengyongqin/dispatch-hub/internal/middleware"
	"github.com/azhengyongqin/dispatch-hub/internal/model"
	"github.com/azhengyongqin/dispatch-hub/internal/server/dto"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// TaskHandler Task 相关 API Handler
type TaskHandler struct {
	store        store.Store
	defaultLease time.Duration
}

// NewTaskHandler 创建 TaskHandler
func NewTaskHandler(s store.Store, defaultLease time.Duration) *TaskHandler {
	return &TaskHandler{
		store:        s,
		defaultLease: defaultLease,
	}
}

// CreateTask godoc
// @Summary 提交任务
// @Description 插入一条 pending 任务并返回新分配的 task_id
// @Tags Tasks
// @Accept json
// @Produce json
// @Param request body dto.CreateTaskRequest true "任务提交请求"
// @Success 201 {object} dto.CreateTaskResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if !middleware.ValidateTaskType(req.TaskType) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "task_type 格式无效"})
		return
	}
	if len(req.Payload) > middleware.MaxPayloadSize {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "payload 过大，最大 2MB"})
		return
	}

	taskID, err := h.store.SubmitTask(c.Request.Context(), req.TaskType, req.Payload)
	if err != nil {
		metrics.RecordError("server", "submit_task")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	metrics.TasksSubmittedTotal.WithLabelValues(req.TaskType).Inc()
	logger.L.Info().
		Int64("task_id", taskID).
		Str("task_type", req.TaskType).
		Msg("任务已提交")

	c.JSON(http.StatusCreated, dto.CreateTaskResponse{
		TaskID: taskID,
		Status: string(model.TaskStatusPending),
	})
}

// GetTask godoc
// @Summary 获取任务详情
// @Description 根据 task_id 获取任务状态；任务结束后附带 Result
// @Tags Tasks
// @Produce json
// @Param task_id path int true "任务 ID"
// @Success 200 {object} dto.TaskResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /tasks/{task_id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.GetInt64("task_id")

	task, err := h.store.GetTask(c.Request.Context(), taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task 不存在"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	resp := dto.TaskResponse{Task: task}
	if task.Status.Terminal() {
		result, err := h.store.GetResult(c.Request.Context(), taskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
			return
		}
		resp.Result = result
	}
	c.JSON(http.StatusOK, resp)
}

// ClaimTask godoc
// @Summary 认领任务
// @Description 原子认领最老的 pending 任务，同一事务内刷新心跳并附带最新 checkpoint；队列为空返回 task=null
// @Tags Tasks
// @Accept json
// @Produce json
// @Param request body dto.ClaimTaskRequest true "认领请求"
// @Success 200 {object} dto.ClaimTaskResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /tasks/claim [post]
func (h *TaskHandler) ClaimTask(c *gin.Context) {
	var req dto.ClaimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if !middleware.ValidateWorkerID(req.WorkerID) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "worker_id 格式无效"})
		return
	}

	lease := h.defaultLease
	if req.LeaseSeconds > 0 {
		lease = time.Duration(req.LeaseSeconds) * time.Second
	}

	claimed, err := h.store.ClaimTask(c.Request.Context(), req.WorkerID, lease)
	if err != nil {
		metrics.RecordError("server", "claim_task")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if claimed == nil {
		c.JSON(http.StatusOK, dto.ClaimTaskResponse{Task: nil})
		return
	}

	metrics.TasksClaimedTotal.Inc()
	logger.L.Info().
		Int64("task_id", claimed.Task.TaskID).
		Str("worker_id", req.WorkerID).
		Int("attempts", claimed.Task.Attempts).
		Bool("has_checkpoint", claimed.Checkpoint != nil).
		Msg("任务已认领")

	c.JSON(http.StatusOK, dto.ClaimTaskResponse{
		Task:       &claimed.Task,
		Checkpoint: claimed.Checkpoint,
	})
}

// SubmitResult godoc
// @Summary 提交任务结果
// @Description 写入终态结果；租约过期、属主不符或任务已结束时返回 409 REJECT，worker 必须丢弃该结果
// @Tags Tasks
// @Accept json
// @Produce json
// @Param task_id path int true "任务 ID"
// @Param request body dto.SubmitResultRequest true "结果"
// @Success 200 {object} dto.AckResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /tasks/{task_id}/result [post]
func (h *TaskHandler) SubmitResult(c *gin.Context) {
	taskID := c.GetInt64("task_id")

	var req dto.SubmitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	outcome := model.ResultStatus(req.Status)
	if !outcome.Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "status 必须是 success/failed"})
		return
	}

	err := h.store.SubmitResult(c.Request.Context(), req.WorkerID, taskID, outcome, req.Blob)
	if store.IsReject(err) {
		metrics.SubmitRejectsTotal.WithLabelValues("result").Inc()
		logger.L.Warn().
			Int64("task_id", taskID).
			Str("worker_id", req.WorkerID).
			Str("reason", rejectReason(err)).
			Msg("结果被拒")
		rejectJSON(c, err)
		return
	}
	if err != nil {
		metrics.RecordError("server", "submit_result")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	metrics.TasksCompletedTotal.WithLabelValues(req.Status).Inc()
	logger.L.Info().
		Int64("task_id", taskID).
		Str("worker_id", req.WorkerID).
		Str("status", req.Status).
		Msg("结果已落库")

	c.JSON(http.StatusOK, dto.AckResponse{Status: "ack"})
}

// SaveCheckpoint godoc
// @Summary 保存执行进度
// @Description 追加 checkpoint 并刷新租约，返回新的到期时间；前置条件与结果提交相同
// @Tags Tasks
// @Accept json
// @Produce json
// @Param task_id path int true "任务 ID"
// @Param request body dto.SaveCheckpointRequest true "进度"
// @Success 200 {object} dto.SaveCheckpointResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /tasks/{task_id}/checkpoint [post]
func (h *TaskHandler) SaveCheckpoint(c *gin.Context) {
	taskID := c.GetInt64("task_id")

	var req dto.SaveCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	deadline, err := h.store.SaveCheckpoint(c.Request.Context(), req.WorkerID, taskID, req.State, req.ElapsedMS, h.defaultLease)
	if store.IsReject(err) {
		metrics.SubmitRejectsTotal.WithLabelValues("checkpoint").Inc()
		rejectJSON(c, err)
		return
	}
	if err != nil {
		metrics.RecordError("server", "save_checkpoint")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	metrics.CheckpointsSavedTotal.Inc()
	c.JSON(http.StatusOK, dto.SaveCheckpointResponse{
		Status:         "ack",
		LeaseExpiresAt: deadline,
	})
}

// rejectJSON 把契约拒绝错误映射成 409 响应
func rejectJSON(c *gin.Context, err error) {
	c.JSON(http.StatusConflict, dto.ErrorResponse{
		Error:  err.Error(),
		Code:   "rejected",
		Reason: rejectReason(err),
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, store.ErrNotInProgress):
		return "not_in_progress"
	case errors.Is(err, store.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, store.ErrLeaseExpired):
		return "lease_expired"
	case errors.Is(err, store.ErrResultExists):
		return "result_exists"
	default:
		return "unknown"
	}
}
