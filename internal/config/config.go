package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	HTTP     HTTPConfig
	Store    StoreConfig
	Redis    RedisConfig
	Monitor  MonitorConfig
	Lease    LeaseConfig
	Worker   WorkerConfig
	LogLevel string
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr string
}

// StoreConfig 存储配置。配置了 POSTGRES_DSN 用 Postgres，否则落到
// SQLITE_PATH 的单文件库。
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}

// RedisConfig Redis 配置（可选，仅用于 /stats 读缓存）
type RedisConfig struct {
	Addr string
}

// MonitorConfig 监控循环配置
type MonitorConfig struct {
	Tick            time.Duration
	WorkerDeadAfter time.Duration
}

// LeaseConfig 租约配置
type LeaseConfig struct {
	DefaultDuration time.Duration
}

// WorkerConfig Worker 进程配置
type WorkerConfig struct {
	WorkerID           string
	CoordinatorURL     string
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	CacheDir           string
	CacheTTL           time.Duration
	CacheRetryInterval time.Duration
	PrimesMaxLimit     int
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	// 允许从环境变量读取（优先级最高）
	v.AutomaticEnv()

	// 读取配置文件（如果存在）
	_ = v.ReadInConfig() // 忽略错误，因为可能只使用环境变量

	cfg := &Config{}

	// HTTP 配置
	cfg.HTTP.Addr = v.GetString("HTTP_ADDR")
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":28080"
	}

	// 存储配置
	cfg.Store.PostgresDSN = v.GetString("POSTGRES_DSN")
	cfg.Store.SQLitePath = v.GetString("SQLITE_PATH")
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "dispatch.db"
	}

	// Redis 配置（可选）
	cfg.Redis.Addr = v.GetString("REDIS_ADDR")

	// 监控循环配置
	cfg.Monitor.Tick = v.GetDuration("MONITOR_TICK")
	if cfg.Monitor.Tick == 0 {
		cfg.Monitor.Tick = time.Second
	}
	cfg.Monitor.WorkerDeadAfter = v.GetDuration("WORKER_DEAD_AFTER")
	if cfg.Monitor.WorkerDeadAfter == 0 {
		cfg.Monitor.WorkerDeadAfter = 60 * time.Second
	}

	// 租约配置
	cfg.Lease.DefaultDuration = v.GetDuration("DEFAULT_LEASE_DURATION")
	if cfg.Lease.DefaultDuration == 0 {
		cfg.Lease.DefaultDuration = 120 * time.Second
	}

	// Worker 配置
	cfg.Worker.WorkerID = v.GetString("WORKER_ID")
	cfg.Worker.CoordinatorURL = v.GetString("COORDINATOR_URL")
	if cfg.Worker.CoordinatorURL == "" {
		cfg.Worker.CoordinatorURL = "http://localhost:28080"
	}
	cfg.Worker.PollInterval = v.GetDuration("POLL_INTERVAL")
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 5 * time.Second
	}
	cfg.Worker.HeartbeatInterval = v.GetDuration("HEARTBEAT_INTERVAL")
	if cfg.Worker.HeartbeatInterval == 0 {
		cfg.Worker.HeartbeatInterval = 30 * time.Second
	}
	cfg.Worker.CacheDir = v.GetString("CACHE_DIR")
	if cfg.Worker.CacheDir == "" {
		cfg.Worker.CacheDir = "cache"
	}
	cfg.Worker.CacheTTL = v.GetDuration("CACHE_TTL")
	if cfg.Worker.CacheTTL == 0 {
		cfg.Worker.CacheTTL = 3600 * time.Second
	}
	cfg.Worker.CacheRetryInterval = v.GetDuration("CACHE_RETRY_INTERVAL")
	if cfg.Worker.CacheRetryInterval == 0 {
		cfg.Worker.CacheRetryInterval = 20 * time.Second
	}
	cfg.Worker.PrimesMaxLimit = v.GetInt("PRIMES_MAX_LIMIT")
	if cfg.Worker.PrimesMaxLimit == 0 {
		cfg.Worker.PrimesMaxLimit = 1000000
	}

	// 日志级别
	cfg.LogLevel = v.GetString("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Store.PostgresDSN == "" && c.Store.SQLitePath == "" {
		return fmt.Errorf("either POSTGRES_DSN or SQLITE_PATH is required")
	}
	if c.Monitor.Tick <= 0 {
		return fmt.Errorf("MONITOR_TICK must be positive")
	}
	if c.Monitor.WorkerDeadAfter <= 0 {
		return fmt.Errorf("WORKER_DEAD_AFTER must be positive")
	}
	if c.Lease.DefaultDuration <= 0 {
		return fmt.Errorf("DEFAULT_LEASE_DURATION must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 || c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	return nil
}

// TickTooCoarse 监控跳距是否偏大（建议 tick <= worker_dead_after/5）。
// 只告警不拒绝：快速回收的部署会把两者同时调小。
func (c *Config) TickTooCoarse() bool {
	return c.Monitor.Tick > c.Monitor.WorkerDeadAfter/5
}
