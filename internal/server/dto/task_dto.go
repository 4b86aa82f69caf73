package dto

import (
	"encoding/json"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// CreateTaskRequest 提交任务请求
type CreateTaskRequest struct {
	TaskType string          `json:"task_type" binding:"required" example:"prime"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
}

// CreateTaskResponse 提交任务响应
type CreateTaskResponse struct {
	TaskID int64  `json:"task_id" example:"1"`
	Status string `json:"status" example:"pending"`
}

// TaskResponse 任务详情响应；任务结束后附带 Result
type TaskResponse struct {
	Task   *store.Task   `json:"task"`
	Result *store.Result `json:"result,omitempty"`
}

// ClaimTaskRequest 认领请求
type ClaimTaskRequest struct {
	WorkerID     string `json:"worker_id" binding:"required" example:"worker-1"`
	LeaseSeconds int    `json:"lease_seconds" example:"120"` // 可选，默认用协调器配置
}

// ClaimTaskResponse 认领响应。队列为空时 task 为 null。
type ClaimTaskResponse struct {
	Task       *store.Task       `json:"task"`
	Checkpoint *store.Checkpoint `json:"checkpoint,omitempty"`
}

// SubmitResultRequest 结果提交请求
type SubmitResultRequest struct {
	WorkerID string          `json:"worker_id" binding:"required" example:"worker-1"`
	Status   string          `json:"status" binding:"required" example:"success"` // success / failed
	Blob     json.RawMessage `json:"blob"`
}

// SaveCheckpointRequest checkpoint 请求
type SaveCheckpointRequest struct {
	WorkerID  string          `json:"worker_id" binding:"required" example:"worker-1"`
	State     json.RawMessage `json:"state" binding:"required"`
	ElapsedMS int64           `json:"elapsed_ms" example:"1500"`
}

// SaveCheckpointResponse checkpoint 响应，带回刷新后的租约
type SaveCheckpointResponse struct {
	Status         string    `json:"status" example:"ack"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// AckResponse 通用 ACK 响应
type AckResponse struct {
	Status string `json:"status" example:"ack"`
}

// StatsResponse 全局统计响应
type StatsResponse struct {
	Tasks        map[string]int `json:"tasks"`
	WorkersAlive int            `json:"workers_alive"`
	WorkersDead  int            `json:"workers_dead"`
}
