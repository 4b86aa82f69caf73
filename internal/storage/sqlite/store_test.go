package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/dispatch-hub/internal/model"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err, "打开测试库应该成功")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{"limit":1000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "task_id 从 1 开始单调递增")

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Attempts)
	assert.Empty(t, task.AssignedWorker, "pending 任务不能有属主")
	assert.Nil(t, task.LeaseExpiresAt, "pending 任务不能有租约")

	_, err = s.GetTask(ctx, 999)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestClaimFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	for want := int64(1); want <= 3; want++ {
		claimed, err := s.ClaimTask(ctx, "w1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, want, claimed.Task.TaskID, "必须按 task_id 升序认领")
		assert.Equal(t, model.TaskStatusInProgress, claimed.Task.Status)
		assert.Equal(t, "w1", claimed.Task.AssignedWorker)
		require.NotNil(t, claimed.Task.LeaseExpiresAt)
		assert.Equal(t, 1, claimed.Task.Attempts)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claimed, err := s.ClaimTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed, "空队列返回 nil")

	// 空队列认领的唯一副作用是心跳刷新
	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "w1", workers[0].WorkerID)
	assert.Equal(t, model.WorkerStatusAlive, workers[0].Status)
}

func TestClaimConcurrentDisjoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const tasks = 40
	for i := 0; i < tasks; i++ {
		_, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var (
		mu         sync.Mutex
		claimed    = map[int64]string{}
		duplicates []int64
		wg         sync.WaitGroup
	)
	workers := []string{"w1", "w2", "w3", "w4"}
	for _, w := range workers {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				c, err := s.ClaimTask(ctx, workerID, time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				if c == nil {
					return
				}
				mu.Lock()
				if _, dup := claimed[c.Task.TaskID]; dup {
					duplicates = append(duplicates, c.Task.TaskID)
				}
				claimed[c.Task.TaskID] = workerID
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Empty(t, duplicates, "没有任务被两个 worker 同时认领")
	assert.Len(t, claimed, tasks, "每个任务恰好被认领一次")
}

func TestAttemptsAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = s.ClaimTask(ctx, "w1", time.Second)
	require.NoError(t, err)

	// 租约过期后回收：attempts 不变、回到 pending
	s.SetNow(func() time.Time { return base.Add(5 * time.Second) })
	report, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TasksReclaimed)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, 1, task.Attempts, "回收不改 attempts")
	assert.Empty(t, task.AssignedWorker)
	assert.Nil(t, task.LeaseExpiresAt)

	// 第二次认领 attempts = 2
	c, err := s.ClaimTask(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Task.Attempts, "attempts 等于 pending->in_progress 迁移次数")
}

func TestSubmitResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{"limit":1000}`))
	require.NoError(t, err)
	_, err = s.ClaimTask(ctx, "w1", time.Minute)
	require.NoError(t, err)

	_, err = s.SaveCheckpoint(ctx, "w1", id, json.RawMessage(`{"last_checked":500}`), 100, time.Minute)
	require.NoError(t, err)

	err = s.SubmitResult(ctx, "w1", id, model.ResultStatusSuccess, json.RawMessage(`{"count":168}`))
	require.NoError(t, err)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.Empty(t, task.AssignedWorker, "终态任务清空属主（属主记在 Result 上）")
	assert.Nil(t, task.LeaseExpiresAt)

	result, err := s.GetResult(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "w1", result.WorkerID)
	assert.JSONEq(t, `{"count":168}`, string(result.Blob))

	// 完成后任务离开 in_progress，再保存 checkpoint 会被拒
	_, err = s.SaveCheckpoint(ctx, "w1", id, json.RawMessage(`{}`), 0, time.Minute)
	assert.ErrorIs(t, err, store.ErrNotInProgress, "终态任务不再接受 checkpoint")
}

func TestSubmitResultRejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
	require.NoError(t, err)

	t.Run("not in progress", func(t *testing.T) {
		err := s.SubmitResult(ctx, "w1", id, model.ResultStatusSuccess, nil)
		assert.ErrorIs(t, err, store.ErrNotInProgress)
		assert.True(t, store.IsReject(err))
	})

	_, err = s.ClaimTask(ctx, "w1", time.Minute)
	require.NoError(t, err)

	t.Run("wrong owner", func(t *testing.T) {
		err := s.SubmitResult(ctx, "w2", id, model.ResultStatusSuccess, nil)
		assert.ErrorIs(t, err, store.ErrNotOwner)
	})

	t.Run("unknown task", func(t *testing.T) {
		err := s.SubmitResult(ctx, "w1", 999, model.ResultStatusSuccess, nil)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("expired lease", func(t *testing.T) {
		// 即使监控还没回收，过期租约的提交也必须拒绝
		s.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
		err := s.SubmitResult(ctx, "w1", id, model.ResultStatusSuccess, nil)
		assert.ErrorIs(t, err, store.ErrLeaseExpired)

		result, rerr := s.GetResult(ctx, id)
		require.NoError(t, rerr)
		assert.Nil(t, result, "REJECT 不写 Result")
	})
}

func TestSaveCheckpointRefreshesLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
	require.NoError(t, err)
	claimed, err := s.ClaimTask(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed.Checkpoint, "首次认领没有 checkpoint")

	// 每 lease/2 一次 checkpoint，任务永不过期
	for i := 1; i <= 3; i++ {
		s.SetNow(func() time.Time { return base.Add(time.Duration(i) * 30 * time.Second) })
		state := json.RawMessage(fmt.Sprintf(`{"step":%d}`, i))
		deadline, err := s.SaveCheckpoint(ctx, "w1", id, state, int64(i*1000), time.Minute)
		require.NoError(t, err, "活跃 checkpoint 下租约不应过期")
		assert.Equal(t, base.Add(time.Duration(i)*30*time.Second).Add(time.Minute), deadline)
	}

	// 回收后重新认领应拿到最高 seq 的 checkpoint
	s.SetNow(func() time.Time { return base.Add(time.Hour) })
	_, err = s.Sweep(ctx, 2*time.Hour)
	require.NoError(t, err)

	reclaimed, err := s.ClaimTask(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.NotNil(t, reclaimed.Checkpoint, "重认领要带上最新 checkpoint")
	assert.Equal(t, int64(3), reclaimed.Checkpoint.Seq, "旧 checkpoint 已压缩，只剩最高 seq")
	assert.Equal(t, int64(3000), reclaimed.Checkpoint.ElapsedMS)
}

func TestSweepDeadWorkerBeforeReclaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	id, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
	require.NoError(t, err)
	// 长租约：回收只能由 worker 死亡触发
	_, err = s.ClaimTask(ctx, "w1", time.Hour)
	require.NoError(t, err)

	// w1 沉默超过 worker_dead_after：同一跳内先标死再回收
	s.SetNow(func() time.Time { return base.Add(10 * time.Second) })
	report, err := s.Sweep(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WorkersMarkedDead)
	assert.Equal(t, 1, report.TasksReclaimed)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)

	// 幂等：重跑无额外效果
	report, err = s.Sweep(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Zero(t, report.WorkersMarkedDead)
	assert.Zero(t, report.TasksReclaimed)
}

func TestSweepNoOrphanInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		_, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	for _, w := range []string{"w1", "w2"} {
		_, err := s.ClaimTask(ctx, w, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, s.SubmitResult(ctx, "w1", 1, model.ResultStatusSuccess, json.RawMessage(`{}`)))

	// 所有 worker 沉默超过 worker_dead_after 后不允许有 in_progress 残留
	s.SetNow(func() time.Time { return base.Add(10 * time.Minute) })
	_, err := s.Sweep(ctx, time.Minute)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TasksByStatus[model.TaskStatusInProgress], "扫描后不能有孤儿 in_progress")
	assert.Equal(t, 4, stats.TasksByStatus[model.TaskStatusPending])
	assert.Equal(t, 1, stats.TasksByStatus[model.TaskStatusCompleted])
	assert.Equal(t, 2, stats.WorkersDead)
}

func TestHeartbeatIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Heartbeat(ctx, "w1"))
	require.NoError(t, s.Heartbeat(ctx, "w1"))

	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 1)
}

func TestHeartbeatRevivesDeadWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.SetNow(func() time.Time { return base })

	require.NoError(t, s.Heartbeat(ctx, "w1"))
	s.SetNow(func() time.Time { return base.Add(time.Hour) })
	_, err := s.Sweep(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Heartbeat(ctx, "w1"))
	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, model.WorkerStatusAlive, workers[0].Status, "心跳把 dead worker 拉回 alive")
}
