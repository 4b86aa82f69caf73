package healthcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/dispatch-hub/internal/storage/sqlite"
)

func TestHealthChecker_LivenessCheck(t *testing.T) {
	// Liveness check 不依赖外部服务，应该总是成功
	hc := &HealthChecker{}

	result := hc.LivenessCheck()

	assert.Equal(t, "ok", result.Status)
	assert.Contains(t, result.Checks, "service")
	assert.Equal(t, "running", result.Checks["service"])
}

func TestHealthChecker_ReadinessCheck(t *testing.T) {
	s, err := sqlite.Open(t.TempDir() + "/health.db")
	require.NoError(t, err)
	defer s.Close()

	hc := NewHealthChecker(s, nil)

	result := hc.ReadinessCheck(context.Background())

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "ok", result.Checks["store"])
	assert.NotContains(t, result.Checks, "redis", "未配置 Redis 时不检查")
}
