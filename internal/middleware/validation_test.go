package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateWorkerID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.True(t, ValidateWorkerID("worker-1"))
		assert.True(t, ValidateWorkerID("w_01"))
		assert.True(t, ValidateWorkerID("Worker123"))
	})

	t.Run("invalid", func(t *testing.T) {
		assert.False(t, ValidateWorkerID(""), "空 ID 无效")
		assert.False(t, ValidateWorkerID("ab"), "太短")
		assert.False(t, ValidateWorkerID("worker one"), "空格无效")
		assert.False(t, ValidateWorkerID("worker/1"), "斜杠无效")
	})
}

func TestValidateTaskType(t *testing.T) {
	assert.True(t, ValidateTaskType("prime"))
	assert.True(t, ValidateTaskType("compute_v2"))
	assert.False(t, ValidateTaskType(""))
	assert.False(t, ValidateTaskType("no-dash-allowed"))
}

func TestParseTaskID(t *testing.T) {
	id, ok := ParseTaskID("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ParseTaskID("0")
	assert.False(t, ok, "task_id 必须是正整数")
	_, ok = ParseTaskID("-1")
	assert.False(t, ok)
	_, ok = ParseTaskID("abc")
	assert.False(t, ok)
}
