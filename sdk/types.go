package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task 认领到的任务
type Task struct {
	TaskID   int64           `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Checkpoint 任务的最新执行进度
type Checkpoint struct {
	Seq       int64           `json:"seq"`
	State     json.RawMessage `json:"state"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

// ClaimResponse 认领响应；队列为空时整体为 nil
type ClaimResponse struct {
	Task       *Task       `json:"task"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// TaskInfo 任务查询响应
type TaskInfo struct {
	Task struct {
		TaskID   int64           `json:"task_id"`
		TaskType string          `json:"task_type"`
		Status   string          `json:"status"`
		Attempts int             `json:"attempts"`
		Payload  json.RawMessage `json:"payload"`
	} `json:"task"`
	Result *struct {
		WorkerID string          `json:"worker_id"`
		Status   string          `json:"status"`
		Blob     json.RawMessage `json:"blob"`
	} `json:"result,omitempty"`
}

// Stats 全局统计
type Stats struct {
	Tasks        map[string]int `json:"tasks"`
	WorkersAlive int            `json:"workers_alive"`
	WorkersDead  int            `json:"workers_dead"`
}

// RejectError 契约拒绝（HTTP 409）。调用方的前置条件不成立，
// 本次尝试的结果必须丢弃，绝不重试。
type RejectError struct {
	Reason  string
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Message)
}

// TransientError 瞬时基础设施故障（网络断开、超时、5xx）。
// 调用方可以重试；结果提交走本地缓存。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsReject 是否契约拒绝
func IsReject(err error) bool {
	var r *RejectError
	return errors.As(err, &r)
}

// IsTransient 是否瞬时故障
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

const (
	// DefaultTimeout 控制面操作超时
	DefaultTimeout = 10 * time.Second

	// SubmitTimeout 结果提交超时（结果 blob 可能较大）
	SubmitTimeout = 30 * time.Second
)
