package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/model"
	"github.com/azhengyongqin/dispatch-hub/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	_ = logger.Init(false)
	os.Exit(m.Run())
}

func TestMonitorReclaimsFromSilentWorkers(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SubmitTask(ctx, "prime", json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	_, err = s.ClaimTask(ctx, "w1", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = s.ClaimTask(ctx, "w2", 50*time.Millisecond)
	require.NoError(t, err)

	// 两个 worker 随后全程沉默；快速回收配置（短 tick、短 dead_after）
	m := New(s, 20*time.Millisecond, 100*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(runCtx)
	}()

	// worker 沉默超过 worker_dead_after 后，不允许有 in_progress 残留
	assert.Eventually(t, func() bool {
		stats, err := s.Stats(ctx)
		if err != nil {
			return false
		}
		return stats.TasksByStatus[model.TaskStatusInProgress] == 0 &&
			stats.TasksByStatus[model.TaskStatusPending] == 3 &&
			stats.WorkersDead == 2
	}, 2*time.Second, 20*time.Millisecond, "监控应回收沉默 worker 的任务")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("监控循环没有随 ctx 退出")
	}

	// 回收后的任务按原 id 重新可认领，attempts 继续累加
	c, err := s.ClaimTask(ctx, "w3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(1), c.Task.TaskID, "回收任务按原 id 排在队首")
	assert.Equal(t, 2, c.Task.Attempts)
}
