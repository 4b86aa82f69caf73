package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimEmptyQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/claim", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"task":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	claim, err := c.Claim(context.Background(), "worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, claim, "task=null 映射为 nil")
}

func TestClaimWithCheckpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "worker-1", req["worker_id"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"task": {"task_id": 3, "task_type": "prime", "payload": {"limit": 1000}, "attempts": 2},
			"checkpoint": {"seq": 5, "state": {"last_checked": 500}, "elapsed_ms": 1200}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	claim, err := c.Claim(context.Background(), "worker-1", 120)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, int64(3), claim.Task.TaskID)
	require.NotNil(t, claim.Checkpoint)
	assert.Equal(t, int64(5), claim.Checkpoint.Seq)
	assert.Equal(t, int64(1200), claim.Checkpoint.ElapsedMS)
}

func TestSubmitResultReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"lease expired","code":"rejected","reason":"lease_expired"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.SubmitResult(context.Background(), "worker-1", 1, "success", json.RawMessage(`{}`))

	require.Error(t, err)
	assert.True(t, IsReject(err), "409 是契约拒绝")
	assert.False(t, IsTransient(err))

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "lease_expired", rej.Reason)
}

func TestSubmitResultTransient(t *testing.T) {
	t.Run("5xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(srv.URL)
		err := c.SubmitResult(context.Background(), "worker-1", 1, "success", nil)
		assert.True(t, IsTransient(err), "5xx 是瞬时故障")
	})

	t.Run("connection refused", func(t *testing.T) {
		// 指向已关闭的端口
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := NewClient(srv.URL)
		err := c.SubmitResult(context.Background(), "worker-1", 1, "success", nil)
		assert.True(t, IsTransient(err), "连接失败是瞬时故障")
	})
}

func TestSaveCheckpointReturnsDeadline(t *testing.T) {
	deadline := time.Now().Add(2 * time.Minute).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"status": "ack", "lease_expires_at": deadline}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.SaveCheckpoint(context.Background(), "worker-1", 1, json.RawMessage(`{}`), time.Second)
	require.NoError(t, err)
	assert.True(t, got.Equal(deadline), "带回刷新后的租约")
}

func TestWithRetryStopsOnReject(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}, func(ctx context.Context) error {
		calls++
		return &RejectError{Reason: "not_owner"}
	})

	assert.True(t, IsReject(err))
	assert.Equal(t, 1, calls, "契约拒绝不重试")
}

func TestWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{Err: assert.AnError}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
