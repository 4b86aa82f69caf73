package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/sdk"
)

// Coordinator runner 需要的协调器操作子集（由 sdk.Client 实现）
type Coordinator interface {
	Claim(ctx context.Context, workerID string, leaseSeconds int) (*sdk.ClaimResponse, error)
	SubmitResult(ctx context.Context, workerID string, taskID int64, status string, blob json.RawMessage) error
	SaveCheckpoint(ctx context.Context, workerID string, taskID int64, state json.RawMessage, elapsed time.Duration) (time.Time, error)
}

// Options runner 配置
type Options struct {
	WorkerID           string
	PollInterval       time.Duration
	CacheRetryInterval time.Duration
	LeaseSeconds       int // 0 表示用协调器默认值
}

// Runner worker 主循环：认领 -> 执行（可带 checkpoint）-> 提交。
// 单任务串行；扩容靠多开进程。心跳由外部 goroutine 负责，
// 两者共享的状态只有当前 task_id 和关停标志。
type Runner struct {
	opts     Options
	client   Coordinator
	registry *Registry
	cache    *SubmissionCache

	currentTask  atomic.Int64
	shuttingDown atomic.Bool
}

// NewRunner 创建 runner
func NewRunner(opts Options, client Coordinator, registry *Registry, cache *SubmissionCache) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.CacheRetryInterval <= 0 {
		opts.CacheRetryInterval = 20 * time.Second
	}
	return &Runner{
		opts:     opts,
		client:   client,
		registry: registry,
		cache:    cache,
	}
}

// Run 阻塞运行直到 ctx 取消。启动时先恢复并排空缓存，退出前再排一次。
func (r *Runner) Run(ctx context.Context) error {
	logger.L.Info().
		Str("worker_id", r.opts.WorkerID).
		Strs("task_types", r.registry.Types()).
		Msg("worker 启动")

	// 上次运行遗留的结果先于任何新认领投递
	r.drainCache(ctx)

	go r.cacheRetryLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.shuttingDown.Store(true)
			// 关停前尽力排空缓存
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			r.drainCache(drainCtx)
			cancel()
			logger.L.Info().Str("worker_id", r.opts.WorkerID).Msg("worker 退出")
			return nil

		default:
		}

		claim, err := r.client.Claim(ctx, r.opts.WorkerID, r.opts.LeaseSeconds)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.L.Warn().Err(err).Msg("认领失败，稍后重试")
			r.sleep(ctx, r.opts.PollInterval)
			continue
		}
		if claim == nil {
			r.sleep(ctx, r.opts.PollInterval)
			continue
		}

		r.processClaim(ctx, claim)
	}
}

// CurrentTaskID 当前正在执行的任务 id，空闲时为 0
func (r *Runner) CurrentTaskID() int64 { return r.currentTask.Load() }

func (r *Runner) processClaim(ctx context.Context, claim *sdk.ClaimResponse) {
	task := claim.Task
	r.currentTask.Store(task.TaskID)
	defer r.currentTask.Store(0)

	taskLog := logger.WithTaskID(task.TaskID)
	taskLog.Info().
		Str("task_type", task.TaskType).
		Int("attempts", task.Attempts).
		Bool("resumed", claim.Checkpoint != nil).
		Msg("任务开始执行")

	exec, ok := r.registry.Get(task.TaskType)
	if !ok {
		blob, _ := json.Marshal(map[string]string{"error": "task type not implemented"})
		taskLog.Warn().Str("task_type", task.TaskType).Msg("未知任务类型")
		r.submitOrCache(ctx, task.TaskID, "failed", blob)
		return
	}

	inv := Invocation{
		TaskID:  task.TaskID,
		Payload: task.Payload,
		Checkpoint: func(state json.RawMessage, elapsed time.Duration) (time.Time, error) {
			return r.client.SaveCheckpoint(ctx, r.opts.WorkerID, task.TaskID, state, elapsed)
		},
	}
	if claim.Checkpoint != nil {
		inv.Resume = &ResumeState{
			State:     claim.Checkpoint.State,
			ElapsedMS: claim.Checkpoint.ElapsedMS,
		}
	}

	blob, err := r.safeExecute(ctx, exec, inv)

	// checkpoint 途中被拒说明租约已丢：结果没有意义，直接放弃，
	// 不再提交（提交也只会换来同一个 REJECT）
	if sdk.IsReject(err) {
		taskLog.Warn().Err(err).Msg("租约丢失，放弃本次执行")
		return
	}

	status := "success"
	if err != nil {
		status = "failed"
		blob, _ = json.Marshal(map[string]string{"error": err.Error()})
		taskLog.Warn().Err(err).Msg("任务执行失败")
	}

	r.submitOrCache(ctx, task.TaskID, status, blob)
}

// safeExecute 执行器 panic 收敛为终态 failed
func (r *Runner) safeExecute(ctx context.Context, exec Executor, inv Invocation) (blob json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task execution panic: %v", p)
		}
	}()
	return exec(ctx, inv)
}

// submitOrCache 提交结果；ACK 成功，REJECT 丢弃，瞬时故障进缓存
func (r *Runner) submitOrCache(ctx context.Context, taskID int64, status string, blob json.RawMessage) {
	taskLog := logger.WithTaskID(taskID)
	err := r.client.SubmitResult(ctx, r.opts.WorkerID, taskID, status, blob)
	if err == nil {
		taskLog.Info().Str("status", status).Msg("结果已提交")
		return
	}

	if sdk.IsReject(err) {
		// 租约已丢，结果作废——不重试
		taskLog.Warn().Err(err).Msg("结果被拒，丢弃")
		return
	}

	if cacheErr := r.cache.Save(CacheEntry{
		TaskID:   taskID,
		WorkerID: r.opts.WorkerID,
		Status:   status,
		Blob:     blob,
	}); cacheErr != nil {
		taskLog.Error().Err(cacheErr).Msg("结果缓存失败，本次结果丢失")
	}
}

func (r *Runner) cacheRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.CacheRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainCache(ctx)
		}
	}
}

// drainCache 重试所有缓存条目：ACK 和 REJECT 都删除（REJECT 说明
// 租约已被别人接管，结果没有意义），瞬时故障留给下一轮。
func (r *Runner) drainCache(ctx context.Context) {
	files, err := r.cache.Load()
	if err != nil {
		logger.L.Warn().Err(err).Msg("读取结果缓存失败")
		return
	}

	for _, f := range files {
		taskLog := logger.WithTaskID(f.Entry.TaskID)
		err := r.client.SubmitResult(ctx, f.Entry.WorkerID, f.Entry.TaskID, f.Entry.Status, f.Entry.Blob)
		switch {
		case err == nil:
			taskLog.Info().Msg("缓存结果补投成功")
			_ = r.cache.Remove(f.Path)
		case sdk.IsReject(err):
			taskLog.Warn().Err(err).Msg("缓存结果被拒，丢弃")
			_ = r.cache.Remove(f.Path)
		default:
			// 协调器还没回来，下一轮再试
			return
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
