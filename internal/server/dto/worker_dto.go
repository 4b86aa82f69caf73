package dto

import (
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// WorkerListResponse Worker 列表响应
type WorkerListResponse struct {
	Items []store.Worker `json:"items"`
}

// HeartbeatResponse 心跳响应
type HeartbeatResponse struct {
	Status      string    `json:"status" example:"ok"`
	WorkerID    string    `json:"worker_id" example:"worker-1"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}
