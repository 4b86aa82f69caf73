package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/model"
)

// Task 表示任务实体
type Task struct {
	TaskID         int64            `json:"task_id"`
	TaskType       string           `json:"task_type"`
	Payload        json.RawMessage  `json:"payload"`
	Status         model.TaskStatus `json:"status"`
	AssignedWorker string           `json:"assigned_worker,omitempty"`
	LeaseExpiresAt *time.Time       `json:"lease_expires_at,omitempty"`
	Attempts       int              `json:"attempts"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Result 表示任务的最终结果，每个任务至多一条。
type Result struct {
	TaskID    int64              `json:"task_id"`
	WorkerID  string             `json:"worker_id"`
	Status    model.ResultStatus `json:"status"`
	Blob      json.RawMessage    `json:"blob"`
	CreatedAt time.Time          `json:"created_at"`
}

// Checkpoint 表示执行中间进度，seq 单调递增，只有最高 seq 有语义。
type Checkpoint struct {
	TaskID    int64           `json:"task_id"`
	Seq       int64           `json:"seq"`
	State     json.RawMessage `json:"state"`
	ElapsedMS int64           `json:"elapsed_ms"`
	CreatedAt time.Time       `json:"created_at"`
}

// Worker 表示 worker 注册记录
type Worker struct {
	WorkerID        string             `json:"worker_id"`
	LastHeartbeatAt time.Time          `json:"last_heartbeat_at"`
	Status          model.WorkerStatus `json:"status"`
}

// ClaimedTask 是 ClaimTask 的返回：任务本体加上最新 checkpoint（如果有）。
type ClaimedTask struct {
	Task       Task        `json:"task"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// Stats 全局统计
type Stats struct {
	TasksByStatus map[model.TaskStatus]int `json:"tasks_by_status"`
	WorkersAlive  int                      `json:"workers_alive"`
	WorkersDead   int                      `json:"workers_dead"`
}

// SweepReport 一次监控扫描的结果
type SweepReport struct {
	WorkersMarkedDead int `json:"workers_marked_dead"`
	TasksReclaimed    int `json:"tasks_reclaimed"`
}

// 契约拒绝错误（REJECT）。调用方前置条件不成立，绝不重试。
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNotInProgress = errors.New("task is not in progress")
	ErrNotOwner      = errors.New("task is assigned to another worker")
	ErrLeaseExpired  = errors.New("lease expired")
	ErrResultExists  = errors.New("result already recorded")
)

// IsReject 判断是否契约拒绝（worker 必须丢弃本次尝试的结果）。
func IsReject(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrNotInProgress) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrLeaseExpired) ||
		errors.Is(err, ErrResultExists)
}

// Store 任务生命周期存储接口。
// 所有状态迁移都是单个可串行化写事务；存储层本身是并发同步点，
// 进程内不持有任何负载相关的锁。
type Store interface {
	// SubmitTask 插入一条 pending 任务，返回新分配的 task_id
	SubmitTask(ctx context.Context, taskType string, payload json.RawMessage) (int64, error)

	// ClaimTask 原子认领最老的 pending 任务。
	// 同一事务内先刷新 worker 心跳，再做 pending -> in_progress 迁移并
	// attempts+1，最后读出最高 seq 的 checkpoint。队列为空返回 (nil, nil)。
	ClaimTask(ctx context.Context, workerID string, lease time.Duration) (*ClaimedTask, error)

	// SubmitResult 在一个事务内写 Result、置终态、清空租约、删除 checkpoints。
	// 前置条件不满足时返回契约拒绝错误。
	SubmitResult(ctx context.Context, workerID string, taskID int64, outcome model.ResultStatus, blob json.RawMessage) error

	// SaveCheckpoint 追加 checkpoint（seq = max+1，旧行压缩删除）并刷新租约，
	// 返回新的租约到期时间。前置条件与 SubmitResult 相同。
	SaveCheckpoint(ctx context.Context, workerID string, taskID int64, state json.RawMessage, elapsedMS int64, lease time.Duration) (time.Time, error)

	// Heartbeat 幂等 upsert worker 记录，不触碰任何任务。
	Heartbeat(ctx context.Context, workerID string) error

	// GetTask 快照读任务
	GetTask(ctx context.Context, taskID int64) (*Task, error)

	// GetResult 快照读结果；不存在返回 (nil, nil)
	GetResult(ctx context.Context, taskID int64) (*Result, error)

	// Stats 按状态统计任务数量与 worker 存活情况
	Stats(ctx context.Context) (*Stats, error)

	// ListWorkers 列出所有 worker 注册记录
	ListWorkers(ctx context.Context) ([]Worker, error)

	// Sweep 监控循环的一跳：同一事务内先标记死亡 worker，
	// 再回收租约过期或属主已死的 in_progress 任务（attempts 保持不变，
	// checkpoints 保留）。幂等。
	Sweep(ctx context.Context, deadAfter time.Duration) (SweepReport, error)

	// Ping 连通性检查
	Ping(ctx context.Context) error

	Close() error
}
