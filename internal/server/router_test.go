package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/dispatch-hub/internal/healthcheck"
	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/server/dto"
	"github.com/azhengyongqin/dispatch-hub/internal/storage/sqlite"
)

func newTestRouter(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init(false))

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := NewRouter(Deps{
		Store:         s,
		DefaultLease:  time.Minute,
		HealthChecker: healthcheck.NewHealthChecker(s, nil),
	})
	return r, s
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	// 提交
	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{
		"task_type": "prime",
		"payload":   gin.H{"limit": 1000},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created dto.CreateTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.TaskID)

	// 认领
	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks/claim", gin.H{"worker_id": "worker-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var claimed dto.ClaimTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	require.NotNil(t, claimed.Task)
	assert.Equal(t, created.TaskID, claimed.Task.TaskID)
	assert.Nil(t, claimed.Checkpoint)

	// checkpoint 续租
	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks/1/checkpoint", gin.H{
		"worker_id":  "worker-1",
		"state":      gin.H{"last_checked": 500},
		"elapsed_ms": 1200,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cp dto.SaveCheckpointResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cp))
	assert.Equal(t, "ack", cp.Status)
	assert.False(t, cp.LeaseExpiresAt.IsZero())

	// 结果
	w = doJSON(t, r, http.MethodPost, "/api/v1/tasks/1/result", gin.H{
		"worker_id": "worker-1",
		"status":    "success",
		"blob":      gin.H{"count": 168},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 查询：终态带 result
	w = doJSON(t, r, http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got dto.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "completed", string(got.Task.Status))
	require.NotNil(t, got.Result)
	assert.JSONEq(t, `{"count":168}`, string(got.Result.Blob))
}

func TestClaimEmptyQueueOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks/claim", gin.H{"worker_id": "worker-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var claimed dto.ClaimTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	assert.Nil(t, claimed.Task, "空队列返回 task=null")
}

func TestSubmitResultReject(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{"task_type": "prime", "payload": gin.H{}})
	doJSON(t, r, http.MethodPost, "/api/v1/tasks/claim", gin.H{"worker_id": "worker-1"})

	// 非属主提交 → 409 REJECT
	w := doJSON(t, r, http.MethodPost, "/api/v1/tasks/1/result", gin.H{
		"worker_id": "worker-2",
		"status":    "success",
		"blob":      gin.H{},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	var rej dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rej))
	assert.Equal(t, "rejected", rej.Code)
	assert.Equal(t, "not_owner", rej.Reason)

	// REJECT 不写 Result，任务仍在 in_progress
	w = doJSON(t, r, http.MethodGet, "/api/v1/tasks/1", nil)
	var got dto.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "in_progress", string(got.Task.Status))
	assert.Nil(t, got.Result)
}

func TestStatsAndHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{"task_type": "prime", "payload": gin.H{}})
	doJSON(t, r, http.MethodPost, "/api/v1/workers/worker-1/heartbeat", nil)

	w := doJSON(t, r, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Tasks["pending"])
	assert.Equal(t, 1, stats.WorkersAlive)

	w = doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("bad task type", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/tasks", gin.H{"task_type": "no/slash", "payload": gin.H{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad task id", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/tasks/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/tasks/42", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad worker id", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/workers/x/heartbeat", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
