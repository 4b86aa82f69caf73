package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CheckpointFunc 执行器的进度回调：阻塞完成 SaveCheckpoint 往返，
// 返回刷新后的租约到期时间，执行器据此自定节奏。
type CheckpointFunc func(state json.RawMessage, elapsed time.Duration) (time.Time, error)

// Invocation 一次执行器调用的输入
type Invocation struct {
	TaskID  int64
	Payload json.RawMessage

	// Resume 重认领时带回的最新进度，首次执行为 nil
	Resume *ResumeState

	// Checkpoint 进度回调，允许为 nil（测试时）
	Checkpoint CheckpointFunc
}

// ResumeState 恢复点
type ResumeState struct {
	State     json.RawMessage
	ElapsedMS int64
}

// Executor 任务函数。返回结果 blob；错误表示终态 failed，
// 但 checkpoint 回调返回的契约拒绝错误原样上抛时，runner 放弃本次执行、不提交结果。
// 任务要求纯函数且幂等：worker 只在提交时得知租约丢失，重复执行必须无害。
type Executor func(ctx context.Context, inv Invocation) (json.RawMessage, error)

// Registry 静态执行器注册表，按 task_type 分发。
// 启动时填充；未知类型产生良构的 failed 结果而不是加载错误。
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		executors: map[string]Executor{},
	}
}

// Register 注册执行器
func (r *Registry) Register(taskType string, exec Executor) error {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return fmt.Errorf("task_type 不能为空")
	}
	if exec == nil {
		return fmt.Errorf("executor 不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[taskType]; ok {
		return fmt.Errorf("task_type %q 已注册", taskType)
	}
	r.executors[taskType] = exec
	return nil
}

// Get 查找执行器
func (r *Registry) Get(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[taskType]
	return exec, ok
}

// Types 返回已注册的 task_type（排序）
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
