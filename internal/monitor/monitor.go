package monitor

import (
	"context"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/metrics"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// Monitor 协调器的监控循环：每一跳做一次 Sweep（先标死亡 worker，
// 再回收过期/孤儿租约，单事务）。回收只把任务放回 pending，
// 进入 in_progress 的唯一通道永远是认领路径。
type Monitor struct {
	store           store.Store
	tick            time.Duration
	workerDeadAfter time.Duration
}

// New 创建监控循环
func New(s store.Store, tick, workerDeadAfter time.Duration) *Monitor {
	if tick <= 0 {
		tick = time.Second
	}
	return &Monitor{
		store:           s,
		tick:            tick,
		workerDeadAfter: workerDeadAfter,
	}
}

// Run 阻塞运行直到 ctx 取消。每一跳独立超时，慢事务不会叠加。
func (m *Monitor) Run(ctx context.Context) {
	logger.L.Info().
		Dur("tick", m.tick).
		Dur("worker_dead_after", m.workerDeadAfter).
		Msg("监控循环启动")

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.L.Info().Msg("监控循环退出")
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Monitor) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, m.tick*2+time.Second)
	defer cancel()

	report, err := m.store.Sweep(sweepCtx, m.workerDeadAfter)
	if err != nil {
		metrics.RecordError("monitor", "sweep")
		logger.L.Error().Err(err).Msg("监控扫描失败")
		return
	}

	metrics.RecordSweep(report.WorkersMarkedDead, report.TasksReclaimed)

	if report.WorkersMarkedDead > 0 || report.TasksReclaimed > 0 {
		logger.L.Warn().
			Int("workers_marked_dead", report.WorkersMarkedDead).
			Int("tasks_reclaimed", report.TasksReclaimed).
			Msg("回收完成")
	}

	// worker 存活 gauge 顺带刷新，失败不致命
	if stats, err := m.store.Stats(sweepCtx); err == nil {
		metrics.UpdateWorkerGauges(stats.WorkersAlive, stats.WorkersDead)
	}
}
