package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/dispatch-hub/internal/worker"
)

func runPrime(t *testing.T, opts PrimeOptions, inv worker.Invocation) primeResult {
	t.Helper()
	exec := NewPrimeExecutor(opts)
	blob, err := exec(context.Background(), inv)
	require.NoError(t, err)

	var res primeResult
	require.NoError(t, json.Unmarshal(blob, &res))
	return res
}

func TestPrimeSieve(t *testing.T) {
	res := runPrime(t, PrimeOptions{}, worker.Invocation{
		TaskID:  1,
		Payload: json.RawMessage(`{"limit":1000}`),
	})

	assert.Equal(t, int64(168), res.Count, "1000 以内恰有 168 个素数")
	assert.Equal(t, "sieve", res.Method)
	require.Len(t, res.Primes, 168)
	assert.Equal(t, int64(2), res.Primes[0])
	assert.Equal(t, int64(997), res.Primes[167])
}

func TestPrimeTrialDivisionAgreesWithSieve(t *testing.T) {
	sieve := runPrime(t, PrimeOptions{}, worker.Invocation{
		Payload: json.RawMessage(`{"limit":5000,"method":"sieve"}`),
	})
	trial := runPrime(t, PrimeOptions{}, worker.Invocation{
		Payload: json.RawMessage(`{"limit":5000,"method":"trial_division"}`),
	})

	assert.Equal(t, sieve.Count, trial.Count)
	assert.Equal(t, sieve.Primes, trial.Primes)
}

func TestPrimeEdgeLimits(t *testing.T) {
	t.Run("limit 1", func(t *testing.T) {
		res := runPrime(t, PrimeOptions{}, worker.Invocation{Payload: json.RawMessage(`{"limit":1}`)})
		assert.Zero(t, res.Count)
		assert.Empty(t, res.Primes)
	})

	t.Run("limit 2", func(t *testing.T) {
		res := runPrime(t, PrimeOptions{}, worker.Invocation{Payload: json.RawMessage(`{"limit":2}`)})
		assert.Equal(t, int64(1), res.Count)
	})

	t.Run("negative limit", func(t *testing.T) {
		exec := NewPrimeExecutor(PrimeOptions{})
		_, err := exec(context.Background(), worker.Invocation{Payload: json.RawMessage(`{"limit":-5}`)})
		assert.Error(t, err)
	})
}

func TestPrimeCapsLimit(t *testing.T) {
	res := runPrime(t, PrimeOptions{MaxLimit: 10000}, worker.Invocation{
		Payload: json.RawMessage(`{"limit":500000}`),
	})

	assert.Equal(t, int64(1229), res.Count, "截断到 10000 后是 1229 个素数")
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, int64(500000), res.RequestedLimit)
}

func TestPrimeCheckpointAndResume(t *testing.T) {
	// CheckpointInterval 为 0 纳秒会被默认值替换，这里用 1ns 强制每段都上报
	opts := PrimeOptions{CheckpointInterval: time.Nanosecond}

	var lastState json.RawMessage
	var lastElapsed time.Duration
	checkpoints := 0

	full := runPrime(t, opts, worker.Invocation{
		Payload: json.RawMessage(`{"limit":200000}`),
		Checkpoint: func(state json.RawMessage, elapsed time.Duration) (time.Time, error) {
			checkpoints++
			lastState = state
			lastElapsed = elapsed
			return time.Now().Add(time.Minute), nil
		},
	})
	require.Greater(t, checkpoints, 0, "多段任务必须有 checkpoint")

	var st primeState
	require.NoError(t, json.Unmarshal(lastState, &st))
	assert.Less(t, st.LastChecked, int64(200000), "最后一段之后不再 checkpoint")

	// 从最后一个 checkpoint 恢复，结果必须与整段执行一致
	resumed := runPrime(t, opts, worker.Invocation{
		Payload: json.RawMessage(`{"limit":200000}`),
		Resume: &worker.ResumeState{
			State:     lastState,
			ElapsedMS: lastElapsed.Milliseconds(),
		},
	})

	assert.Equal(t, full.Count, resumed.Count, "恢复执行与整段执行结果一致")
	assert.True(t, resumed.Resumed)
}

func TestPrimeCheckpointRejectAborts(t *testing.T) {
	exec := NewPrimeExecutor(PrimeOptions{CheckpointInterval: time.Nanosecond})

	wantErr := assert.AnError
	_, err := exec(context.Background(), worker.Invocation{
		Payload: json.RawMessage(`{"limit":500000}`),
		Checkpoint: func(json.RawMessage, time.Duration) (time.Time, error) {
			return time.Time{}, wantErr
		},
	})
	assert.ErrorIs(t, err, wantErr, "checkpoint 被拒后立即停止执行")
}

func TestComputeDispatch(t *testing.T) {
	prime := NewPrimeExecutor(PrimeOptions{})
	compute := NewComputeExecutor(prime)

	t.Run("prime delegate", func(t *testing.T) {
		blob, err := compute(context.Background(), worker.Invocation{
			Payload: json.RawMessage(`{"type":"prime","limit":1000}`),
		})
		require.NoError(t, err)
		var res primeResult
		require.NoError(t, json.Unmarshal(blob, &res))
		assert.Equal(t, int64(168), res.Count)
	})

	t.Run("other type echoes", func(t *testing.T) {
		blob, err := compute(context.Background(), worker.Invocation{
			TaskID:  7,
			Payload: json.RawMessage(`{"type":"matrix"}`),
		})
		require.NoError(t, err)
		assert.Contains(t, string(blob), "matrix")
	})
}

func TestRegisterAll(t *testing.T) {
	r := worker.NewRegistry()
	require.NoError(t, RegisterAll(r, PrimeOptions{}))
	assert.Equal(t, []string{"compute", "prime"}, r.Types())

	assert.Error(t, RegisterAll(r, PrimeOptions{}), "重复注册应报错")
}
