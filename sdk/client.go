package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client HTTP 客户端，用于与协调器通信
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// SubmitClient 结果提交专用，超时更长
	SubmitClient *http.Client
}

// NewClient 创建客户端
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		SubmitClient: &http.Client{
			Timeout: SubmitTimeout,
		},
	}
}

// SubmitTask 提交任务，返回新分配的 task_id
func (c *Client) SubmitTask(ctx context.Context, taskType string, payload json.RawMessage) (int64, error) {
	body := map[string]any{
		"task_type": taskType,
		"payload":   payload,
	}
	var resp struct {
		TaskID int64 `json:"task_id"`
	}
	if err := c.postJSON(ctx, c.HTTPClient, "/api/v1/tasks", body, &resp); err != nil {
		return 0, err
	}
	return resp.TaskID, nil
}

// Claim 认领一个任务；队列为空返回 (nil, nil)
func (c *Client) Claim(ctx context.Context, workerID string, leaseSeconds int) (*ClaimResponse, error) {
	body := map[string]any{
		"worker_id":     workerID,
		"lease_seconds": leaseSeconds,
	}
	var resp ClaimResponse
	if err := c.postJSON(ctx, c.HTTPClient, "/api/v1/tasks/claim", body, &resp); err != nil {
		return nil, err
	}
	if resp.Task == nil {
		return nil, nil
	}
	return &resp, nil
}

// SubmitResult 提交终态结果。409 返回 *RejectError，网络/5xx 返回 *TransientError。
func (c *Client) SubmitResult(ctx context.Context, workerID string, taskID int64, status string, blob json.RawMessage) error {
	body := map[string]any{
		"worker_id": workerID,
		"status":    status,
		"blob":      blob,
	}
	path := fmt.Sprintf("/api/v1/tasks/%d/result", taskID)
	return c.postJSON(ctx, c.SubmitClient, path, body, nil)
}

// SaveCheckpoint 保存进度并取回刷新后的租约到期时间
func (c *Client) SaveCheckpoint(ctx context.Context, workerID string, taskID int64, state json.RawMessage, elapsed time.Duration) (time.Time, error) {
	body := map[string]any{
		"worker_id":  workerID,
		"state":      state,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	var resp struct {
		LeaseExpiresAt time.Time `json:"lease_expires_at"`
	}
	path := fmt.Sprintf("/api/v1/tasks/%d/checkpoint", taskID)
	if err := c.postJSON(ctx, c.HTTPClient, path, body, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.LeaseExpiresAt, nil
}

// Heartbeat 上报 worker 心跳
func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	path := fmt.Sprintf("/api/v1/workers/%s/heartbeat", workerID)
	return c.postJSON(ctx, c.HTTPClient, path, nil, nil)
}

// GetTask 查询任务状态
func (c *Client) GetTask(ctx context.Context, taskID int64) (*TaskInfo, error) {
	var info TaskInfo
	path := fmt.Sprintf("/api/v1/tasks/%d", taskID)
	if err := c.getJSON(ctx, path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetStats 查询全局统计
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) postJSON(ctx context.Context, httpClient *http.Client, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusConflict:
		var e struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &RejectError{Reason: e.Reason, Message: e.Error}

	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}

	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
