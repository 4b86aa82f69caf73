package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azhengyongqin/dispatch-hub/internal/model"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// Store 基于 PostgreSQL 的生产存储。
// 认领路径用 FOR UPDATE SKIP LOCKED 表达立即写意图：
// 并发认领者看不到别人已提交的 pending 旧快照，也互不阻塞。
type Store struct {
	pool *pgxpool.Pool

	now func() time.Time
}

// New 基于已有连接池创建存储
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Open 连接数据库、执行 AutoMigrate 并返回存储
func Open(ctx context.Context, dsn string, cfg DBConfig) (*Store, error) {
	if err := AutoMigrate(ctx, dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := NewPool(ctx, dsn, cfg)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) SubmitTask(ctx context.Context, taskType string, payload json.RawMessage) (int64, error) {
	now := s.now()
	var id int64
	err := s.pool.QueryRow(ctx, `
insert into tasks(task_type, payload, status, attempts, created_at, updated_at)
values ($1, $2, $3, 0, $4, $4)
returning id
`, taskType, payload, string(model.TaskStatusPending), now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *Store) ClaimTask(ctx context.Context, workerID string, lease time.Duration) (*store.ClaimedTask, error) {
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
insert into workers(worker_id, last_heartbeat_at, status)
values ($1, $2, $3)
on conflict (worker_id) do update
set last_heartbeat_at = excluded.last_heartbeat_at,
    status = excluded.status
`, workerID, now, string(model.WorkerStatusAlive)); err != nil {
		return nil, fmt.Errorf("upsert worker: %w", err)
	}

	var (
		t       store.Task
		payload []byte
	)
	err = tx.QueryRow(ctx, `
select id, task_type, payload, attempts, created_at
from tasks
where status = $1
order by id asc
limit 1
for update skip locked
`, string(model.TaskStatusPending)).Scan(&t.TaskID, &t.TaskType, &payload, &t.Attempts, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit empty claim: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending task: %w", err)
	}

	deadline := now.Add(lease)
	if _, err := tx.Exec(ctx, `
update tasks
set status = $2, assigned_worker = $3, lease_expires_at = $4, attempts = attempts + 1, updated_at = $5
where id = $1
`, t.TaskID, string(model.TaskStatusInProgress), workerID, deadline, now); err != nil {
		return nil, fmt.Errorf("claim task %d: %w", t.TaskID, err)
	}

	var cp *store.Checkpoint
	var (
		cpState []byte
		c       store.Checkpoint
	)
	err = tx.QueryRow(ctx, `
select task_id, seq, state, elapsed_ms, created_at
from checkpoints
where task_id = $1
order by seq desc
limit 1
`, t.TaskID).Scan(&c.TaskID, &c.Seq, &cpState, &c.ElapsedMS, &c.CreatedAt)
	if err == nil {
		c.State = json.RawMessage(cpState)
		cp = &c
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	t.Payload = json.RawMessage(payload)
	t.Status = model.TaskStatusInProgress
	t.AssignedWorker = workerID
	t.LeaseExpiresAt = &deadline
	t.Attempts++
	t.UpdatedAt = now
	return &store.ClaimedTask{Task: t, Checkpoint: cp}, nil
}

func (s *Store) SubmitResult(ctx context.Context, workerID string, taskID int64, outcome model.ResultStatus, blob json.RawMessage) error {
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.checkOwnership(ctx, tx, workerID, taskID, now); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
insert into task_results(task_id, worker_id, status, blob, created_at)
values ($1, $2, $3, $4, $5)
`, taskID, workerID, string(outcome), blob, now); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if _, err := tx.Exec(ctx, `
update tasks
set status = $2, assigned_worker = null, lease_expires_at = null, updated_at = $3
where id = $1
`, taskID, string(outcome.TaskStatus()), now); err != nil {
		return fmt.Errorf("finalize task %d: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx, `delete from checkpoints where task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, workerID string, taskID int64, state json.RawMessage, elapsedMS int64, lease time.Duration) (time.Time, error) {
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.checkOwnership(ctx, tx, workerID, taskID, now); err != nil {
		return time.Time{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`select coalesce(max(seq), 0) + 1 from checkpoints where task_id = $1`, taskID).Scan(&seq); err != nil {
		return time.Time{}, fmt.Errorf("next checkpoint seq: %w", err)
	}

	if _, err := tx.Exec(ctx, `
insert into checkpoints(task_id, seq, state, elapsed_ms, created_at)
values ($1, $2, $3, $4, $5)
`, taskID, seq, state, elapsedMS, now); err != nil {
		return time.Time{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`delete from checkpoints where task_id = $1 and seq < $2`, taskID, seq); err != nil {
		return time.Time{}, fmt.Errorf("compact checkpoints: %w", err)
	}

	deadline := now.Add(lease)
	if _, err := tx.Exec(ctx, `
update tasks set lease_expires_at = $2, updated_at = $3 where id = $1
`, taskID, deadline, now); err != nil {
		return time.Time{}, fmt.Errorf("refresh lease: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit checkpoint: %w", err)
	}
	return deadline, nil
}

func (s *Store) Heartbeat(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `
insert into workers(worker_id, last_heartbeat_at, status)
values ($1, $2, $3)
on conflict (worker_id) do update
set last_heartbeat_at = excluded.last_heartbeat_at,
    status = excluded.status
`, workerID, s.now(), string(model.WorkerStatusAlive))
	if err != nil {
		return fmt.Errorf("upsert worker heartbeat: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*store.Task, error) {
	var (
		t        store.Task
		payload  []byte
		status   string
		assigned *string
		leaseExp *time.Time
	)
	err := s.pool.QueryRow(ctx, `
select id, task_type, payload, status, assigned_worker, lease_expires_at, attempts, created_at, updated_at
from tasks
where id = $1
`, taskID).Scan(&t.TaskID, &t.TaskType, &payload, &status, &assigned, &leaseExp, &t.Attempts, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	t.Payload = json.RawMessage(payload)
	t.Status = model.TaskStatus(status)
	if assigned != nil {
		t.AssignedWorker = *assigned
	}
	t.LeaseExpiresAt = leaseExp
	return &t, nil
}

func (s *Store) GetResult(ctx context.Context, taskID int64) (*store.Result, error) {
	var (
		r      store.Result
		status string
		blob   []byte
	)
	err := s.pool.QueryRow(ctx, `
select task_id, worker_id, status, blob, created_at
from task_results
where task_id = $1
`, taskID).Scan(&r.TaskID, &r.WorkerID, &status, &blob, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %d: %w", taskID, err)
	}
	r.Status = model.ResultStatus(status)
	r.Blob = json.RawMessage(blob)
	return &r, nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{TasksByStatus: map[model.TaskStatus]int{}}

	rows, err := s.pool.Query(ctx, `select status, count(*) from tasks group by status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.TasksByStatus[model.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
select
  count(*) filter (where status = $1),
  count(*) filter (where status = $2)
from workers
`, string(model.WorkerStatusAlive), string(model.WorkerStatusDead)).Scan(&stats.WorkersAlive, &stats.WorkersDead)
	if err != nil {
		return nil, fmt.Errorf("worker stats: %w", err)
	}
	return stats, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]store.Worker, error) {
	rows, err := s.pool.Query(ctx, `
select worker_id, last_heartbeat_at, status
from workers
order by worker_id asc
`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []store.Worker
	for rows.Next() {
		var (
			w      store.Worker
			status string
		)
		if err := rows.Scan(&w.WorkerID, &w.LastHeartbeatAt, &status); err != nil {
			return nil, err
		}
		w.Status = model.WorkerStatus(status)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) Sweep(ctx context.Context, deadAfter time.Duration) (store.SweepReport, error) {
	now := s.now()
	var report store.SweepReport

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 顺序固定：先标死亡 worker，再回收
	tag, err := tx.Exec(ctx, `
update workers
set status = $1
where last_heartbeat_at < $2 and status != $1
`, string(model.WorkerStatusDead), now.Add(-deadAfter))
	if err != nil {
		return report, fmt.Errorf("mark dead workers: %w", err)
	}
	report.WorkersMarkedDead = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
update tasks
set status = $1, assigned_worker = null, lease_expires_at = null, updated_at = $2
where status = $3
  and (lease_expires_at < $2
       or assigned_worker in (select worker_id from workers where status = $4))
`, string(model.TaskStatusPending), now, string(model.TaskStatusInProgress), string(model.WorkerStatusDead))
	if err != nil {
		return report, fmt.Errorf("reclaim tasks: %w", err)
	}
	report.TasksReclaimed = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return report, fmt.Errorf("commit sweep: %w", err)
	}
	return report, nil
}

func (s *Store) checkOwnership(ctx context.Context, tx pgx.Tx, workerID string, taskID int64, now time.Time) error {
	var (
		status   string
		assigned *string
		leaseExp *time.Time
	)
	err := tx.QueryRow(ctx, `
select status, assigned_worker, lease_expires_at
from tasks
where id = $1
for update
`, taskID).Scan(&status, &assigned, &leaseExp)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}

	if model.TaskStatus(status) != model.TaskStatusInProgress {
		return store.ErrNotInProgress
	}
	if assigned == nil || *assigned != workerID {
		return store.ErrNotOwner
	}
	if leaseExp == nil || leaseExp.Before(now) {
		return store.ErrLeaseExpired
	}
	return nil
}
