package postgres

import (
	"context"
	"time"

	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TaskModel GORM 模型 - 对应 tasks 表
type TaskModel struct {
	ID             int64      `gorm:"primaryKey;autoIncrement;column:id"`
	TaskType       string     `gorm:"column:task_type;type:text;not null"`
	Payload        []byte     `gorm:"column:payload;type:jsonb;not null"`
	Status         string     `gorm:"column:status;type:text;not null;default:pending;index:idx_tasks_status"`
	AssignedWorker *string    `gorm:"column:assigned_worker;type:text"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;index:idx_tasks_lease_expires_at"`
	Attempts       int        `gorm:"column:attempts;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName 指定表名
func (TaskModel) TableName() string { return "tasks" }

// ResultModel GORM 模型 - 对应 task_results 表，task_id 为主键保证每任务至多一条
type ResultModel struct {
	TaskID    int64     `gorm:"primaryKey;column:task_id"`
	WorkerID  string    `gorm:"column:worker_id;type:text;not null"`
	Status    string    `gorm:"column:status;type:text;not null"`
	Blob      []byte    `gorm:"column:blob;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName 指定表名
func (ResultModel) TableName() string { return "task_results" }

// CheckpointModel GORM 模型 - 对应 checkpoints 表
type CheckpointModel struct {
	TaskID    int64     `gorm:"primaryKey;column:task_id"`
	Seq       int64     `gorm:"primaryKey;column:seq"`
	State     []byte    `gorm:"column:state;type:jsonb;not null"`
	ElapsedMS int64     `gorm:"column:elapsed_ms;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName 指定表名
func (CheckpointModel) TableName() string { return "checkpoints" }

// WorkerModel GORM 模型 - 对应 workers 表
type WorkerModel struct {
	WorkerID        string    `gorm:"primaryKey;column:worker_id;type:text"`
	LastHeartbeatAt time.Time `gorm:"column:last_heartbeat_at;not null;index:idx_workers_heartbeat"`
	Status          string    `gorm:"column:status;type:text;not null;default:alive"`
}

// TableName 指定表名
func (WorkerModel) TableName() string { return "workers" }

// AutoMigrate 用 GORM 管理四张表的 schema。
// 运行时仓储走 pgx；GORM 只在启动时建表/补索引，之后连接即关闭。
func AutoMigrate(ctx context.Context, dsn string) error {
	if err := ValidateDSN(dsn); err != nil {
		return err
	}

	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return db.WithContext(ctx).AutoMigrate(
		&TaskModel{},
		&ResultModel{},
		&CheckpointModel{},
		&WorkerModel{},
	)
}
