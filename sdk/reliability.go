package sdk

import (
	"context"
	"log"
	"sync"
	"time"
)

// HeartbeatManager 心跳管理器。
// 在独立 goroutine 里跑，任务执行期间也持续心跳——这是 worker 侧
// 唯一的并发要求。
type HeartbeatManager struct {
	workerID string
	client   *Client
	interval time.Duration

	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewHeartbeatManager 创建心跳管理器
func NewHeartbeatManager(workerID string, client *Client, interval time.Duration) *HeartbeatManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatManager{
		workerID: workerID,
		client:   client,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动心跳，阻塞到 ctx 取消或 Stop
func (h *HeartbeatManager) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// 立即发送一次心跳（注册）
	h.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sendHeartbeat(ctx)
		}
	}
}

// Stop 停止心跳
func (h *HeartbeatManager) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.stopped {
		close(h.stopCh)
		h.stopped = true
	}
}

// sendHeartbeat 发送心跳；超时当瞬时故障忽略，下一跳再试
func (h *HeartbeatManager) sendHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := h.client.Heartbeat(ctx, h.workerID); err != nil {
		log.Printf("[heartbeat] 发送心跳失败: %v", err)
	}
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries     int           // 最大重试次数，默认 3
	InitialBackoff time.Duration // 初始退避时间，默认 1秒
	MaxBackoff     time.Duration // 最大退避时间，默认 30秒
	BackoffFactor  float64       // 退避因子，默认 2.0（指数退避）
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// WithRetry 带指数退避的重试。契约拒绝不重试，直接返回。
func WithRetry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * config.BackoffFactor)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || IsReject(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
