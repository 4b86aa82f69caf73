package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/azhengyongqin/dispatch-hub/internal/model"
	"github.com/azhengyongqin/dispatch-hub/internal/store"
)

// 时间戳一律存 unix 纳秒整数：SQLite 没有原生时间类型，
// 整数比较在任何精度下都有确定的序（租约判定依赖这一点）。
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_type        TEXT NOT NULL,
	payload          BLOB NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	assigned_worker  TEXT,
	lease_expires_at INTEGER,
	attempts         INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_lease_expires_at ON tasks(lease_expires_at);

CREATE TABLE IF NOT EXISTS task_results (
	task_id    INTEGER PRIMARY KEY,
	worker_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	blob       BLOB,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	task_id    INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	state      BLOB NOT NULL,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (task_id, seq)
);

CREATE TABLE IF NOT EXISTS workers (
	worker_id         TEXT PRIMARY KEY,
	last_heartbeat_at INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'alive'
);
CREATE INDEX IF NOT EXISTS idx_workers_heartbeat ON workers(last_heartbeat_at);
`

// Store 基于 SQLite 的单文件存储。
// 所有写事务通过 _txlock=immediate 直接拿写锁，认领路径不会读到
// 其他认领者提交后的陈旧 pending。
type Store struct {
	db *sql.DB

	// now 可注入，测试里用来推进租约/心跳时间
	now func() time.Time
}

// Open 打开（或创建）dbPath 上的 SQLite 库并建表。调用方负责 Close。
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close 释放底层连接
func (s *Store) Close() error { return s.db.Close() }

// Ping 连通性检查
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SetNow 替换时钟（仅测试使用）
func (s *Store) SetNow(now func() time.Time) { s.now = now }

func tsNano(t time.Time) int64 { return t.UnixNano() }

func fromNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *Store) SubmitTask(ctx context.Context, taskType string, payload json.RawMessage) (int64, error) {
	now := tsNano(s.now())
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (task_type, payload, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)`,
		taskType, []byte(payload), string(model.TaskStatusPending), now, now)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (s *Store) ClaimTask(ctx context.Context, workerID string, lease time.Duration) (*store.ClaimedTask, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertWorker(ctx, tx, workerID, now); err != nil {
		return nil, err
	}

	// 最小 task_id 优先：回收回来的任务保持原 id，排在新提交任务之前
	row := tx.QueryRowContext(ctx, `
SELECT id, task_type, payload, attempts, created_at
FROM tasks
WHERE status = ?
ORDER BY id ASC
LIMIT 1`, string(model.TaskStatusPending))

	var (
		t         store.Task
		payload   []byte
		createdAt int64
	)
	err = row.Scan(&t.TaskID, &t.TaskType, &payload, &t.Attempts, &createdAt)
	if err == sql.ErrNoRows {
		// 队列为空也要提交，心跳刷新不能丢
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty claim: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending task: %w", err)
	}

	deadline := now.Add(lease)
	if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, assigned_worker = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
WHERE id = ?`,
		string(model.TaskStatusInProgress), workerID, tsNano(deadline), tsNano(now), t.TaskID); err != nil {
		return nil, fmt.Errorf("claim task %d: %w", t.TaskID, err)
	}

	cp, err := latestCheckpoint(ctx, tx, t.TaskID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	t.Payload = json.RawMessage(payload)
	t.Status = model.TaskStatusInProgress
	t.AssignedWorker = workerID
	t.LeaseExpiresAt = &deadline
	t.Attempts++
	t.CreatedAt = fromNano(createdAt)
	t.UpdatedAt = now

	return &store.ClaimedTask{Task: t, Checkpoint: cp}, nil
}

func (s *Store) SubmitResult(ctx context.Context, workerID string, taskID int64, outcome model.ResultStatus, blob json.RawMessage) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkOwnership(ctx, tx, workerID, taskID, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO task_results (task_id, worker_id, status, blob, created_at)
VALUES (?, ?, ?, ?, ?)`,
		taskID, workerID, string(outcome), []byte(blob), tsNano(now)); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, assigned_worker = NULL, lease_expires_at = NULL, updated_at = ?
WHERE id = ?`,
		string(outcome.TaskStatus()), tsNano(now), taskID); err != nil {
		return fmt.Errorf("finalize task %d: %w", taskID, err)
	}

	// 终态之后 checkpoint 不再可读
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, workerID string, taskID int64, state json.RawMessage, elapsedMS int64, lease time.Duration) (time.Time, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkOwnership(ctx, tx, workerID, taskID, now); err != nil {
		return time.Time{}, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE task_id = ?`, taskID).Scan(&seq); err != nil {
		return time.Time{}, fmt.Errorf("next checkpoint seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints (task_id, seq, state, elapsed_ms, created_at)
VALUES (?, ?, ?, ?, ?)`,
		taskID, seq, []byte(state), elapsedMS, tsNano(now)); err != nil {
		return time.Time{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	// 只有最高 seq 有语义，旧行直接压缩掉
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE task_id = ? AND seq < ?`, taskID, seq); err != nil {
		return time.Time{}, fmt.Errorf("compact checkpoints: %w", err)
	}

	// checkpoint 即活性证明：顺手续租
	deadline := now.Add(lease)
	if _, err := tx.ExecContext(ctx, `
UPDATE tasks SET lease_expires_at = ?, updated_at = ? WHERE id = ?`,
		tsNano(deadline), tsNano(now), taskID); err != nil {
		return time.Time{}, fmt.Errorf("refresh lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit checkpoint: %w", err)
	}
	return deadline, nil
}

func (s *Store) Heartbeat(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO workers (worker_id, last_heartbeat_at, status)
VALUES (?, ?, ?)
ON CONFLICT(worker_id) DO UPDATE SET
	last_heartbeat_at = excluded.last_heartbeat_at,
	status = excluded.status`,
		workerID, tsNano(s.now()), string(model.WorkerStatusAlive))
	if err != nil {
		return fmt.Errorf("upsert worker heartbeat: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task_type, payload, status, assigned_worker, lease_expires_at, attempts, created_at, updated_at
FROM tasks
WHERE id = ?`, taskID)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	return t, nil
}

func (s *Store) GetResult(ctx context.Context, taskID int64) (*store.Result, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, worker_id, status, blob, created_at
FROM task_results
WHERE task_id = ?`, taskID)

	var (
		r         store.Result
		status    string
		blob      []byte
		createdAt int64
	)
	err := row.Scan(&r.TaskID, &r.WorkerID, &status, &blob, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %d: %w", taskID, err)
	}
	r.Status = model.ResultStatus(status)
	r.Blob = json.RawMessage(blob)
	r.CreatedAt = fromNano(createdAt)
	return &r, nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{TasksByStatus: map[model.TaskStatus]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
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

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workers WHERE status = ?`, string(model.WorkerStatusAlive)).Scan(&stats.WorkersAlive); err != nil {
		return nil, fmt.Errorf("alive workers: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workers WHERE status = ?`, string(model.WorkerStatusDead)).Scan(&stats.WorkersDead); err != nil {
		return nil, fmt.Errorf("dead workers: %w", err)
	}
	return stats, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]store.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT worker_id, last_heartbeat_at, status
FROM workers
ORDER BY worker_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []store.Worker
	for rows.Next() {
		var (
			w         store.Worker
			heartbeat int64
			status    string
		)
		if err := rows.Scan(&w.WorkerID, &heartbeat, &status); err != nil {
			return nil, err
		}
		w.LastHeartbeatAt = fromNano(heartbeat)
		w.Status = model.WorkerStatus(status)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) Sweep(ctx context.Context, deadAfter time.Duration) (store.SweepReport, error) {
	now := s.now()
	var report store.SweepReport

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback()

	// 先标死亡 worker，再回收：本跳刚死的 worker 的任务同一跳内回收
	res, err := tx.ExecContext(ctx, `
UPDATE workers
SET status = ?
WHERE last_heartbeat_at < ? AND status != ?`,
		string(model.WorkerStatusDead), tsNano(now.Add(-deadAfter)), string(model.WorkerStatusDead))
	if err != nil {
		return report, fmt.Errorf("mark dead workers: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		report.WorkersMarkedDead = int(n)
	}

	res, err = tx.ExecContext(ctx, `
UPDATE tasks
SET status = ?, assigned_worker = NULL, lease_expires_at = NULL, updated_at = ?
WHERE status = ?
  AND (lease_expires_at < ?
       OR assigned_worker IN (SELECT worker_id FROM workers WHERE status = ?))`,
		string(model.TaskStatusPending), tsNano(now),
		string(model.TaskStatusInProgress), tsNano(now), string(model.WorkerStatusDead))
	if err != nil {
		return report, fmt.Errorf("reclaim tasks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		report.TasksReclaimed = int(n)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit sweep: %w", err)
	}
	return report, nil
}

// checkOwnership 校验 SubmitResult/SaveCheckpoint 的共同前置条件。
func checkOwnership(ctx context.Context, tx *sql.Tx, workerID string, taskID int64, now time.Time) error {
	row := tx.QueryRowContext(ctx, `
SELECT status, assigned_worker, lease_expires_at
FROM tasks
WHERE id = ?`, taskID)

	var (
		status   string
		assigned sql.NullString
		leaseExp sql.NullInt64
	)
	err := row.Scan(&status, &assigned, &leaseExp)
	if err == sql.ErrNoRows {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}

	if model.TaskStatus(status) != model.TaskStatusInProgress {
		return store.ErrNotInProgress
	}
	if !assigned.Valid || assigned.String != workerID {
		return store.ErrNotOwner
	}
	// 过期判定在提交时做，不等监控跳：reclaim-before-reuse 的纪律在这里
	if !leaseExp.Valid || leaseExp.Int64 < tsNano(now) {
		return store.ErrLeaseExpired
	}
	return nil
}

func upsertWorker(ctx context.Context, tx *sql.Tx, workerID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO workers (worker_id, last_heartbeat_at, status)
VALUES (?, ?, ?)
ON CONFLICT(worker_id) DO UPDATE SET
	last_heartbeat_at = excluded.last_heartbeat_at,
	status = excluded.status`,
		workerID, tsNano(now), string(model.WorkerStatusAlive))
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func latestCheckpoint(ctx context.Context, tx *sql.Tx, taskID int64) (*store.Checkpoint, error) {
	row := tx.QueryRowContext(ctx, `
SELECT task_id, seq, state, elapsed_ms, created_at
FROM checkpoints
WHERE task_id = ?
ORDER BY seq DESC
LIMIT 1`, taskID)

	var (
		cp        store.Checkpoint
		state     []byte
		createdAt int64
	)
	err := row.Scan(&cp.TaskID, &cp.Seq, &state, &cp.ElapsedMS, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	cp.State = json.RawMessage(state)
	cp.CreatedAt = fromNano(createdAt)
	return &cp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*store.Task, error) {
	var (
		t         store.Task
		payload   []byte
		status    string
		assigned  sql.NullString
		leaseExp  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&t.TaskID, &t.TaskType, &payload, &status, &assigned, &leaseExp, &t.Attempts, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Payload = json.RawMessage(payload)
	t.Status = model.TaskStatus(status)
	if assigned.Valid {
		t.AssignedWorker = assigned.String
	}
	if leaseExp.Valid {
		exp := fromNano(leaseExp.Int64)
		t.LeaseExpiresAt = &exp
	}
	t.CreatedAt = fromNano(createdAt)
	t.UpdatedAt = fromNano(updatedAt)
	return &t, nil
}
