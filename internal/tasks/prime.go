package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
	"github.com/azhengyongqin/dispatch-hub/internal/worker"
)

const (
	// segmentSize 分段筛的段长
	segmentSize = 1 << 16

	// primesKeepLimit limit 不超过该值时结果里带完整素数列表，
	// 再大就只报数量（blob 要过 2MB 的请求上限）
	primesKeepLimit = 100000
)

// PrimeOptions prime 执行器配置
type PrimeOptions struct {
	// MaxLimit 单任务上限，超出的 limit 截断并在结果里记警告
	MaxLimit int64

	// CheckpointInterval 两次进度上报的最小间隔
	CheckpointInterval time.Duration
}

type primePayload struct {
	Limit  int64  `json:"limit"`
	Method string `json:"method"`
}

// primeState checkpoint 状态。大任务只存扫描边界和计数，
// 恢复时基础素数表重算（sqrt(limit) 以内，开销可忽略）。
type primeState struct {
	LastChecked int64   `json:"last_checked"`
	Count       int64   `json:"count"`
	Primes      []int64 `json:"primes,omitempty"`
	Method      string  `json:"method"`
}

type primeResult struct {
	Count           int64   `json:"count"`
	Primes          []int64 `json:"primes,omitempty"`
	ComputationTime float64 `json:"computation_time"`
	Method          string  `json:"method"`
	Resumed         bool    `json:"resumed,omitempty"`
	Warning         string  `json:"warning,omitempty"`
	RequestedLimit  int64   `json:"requested_limit,omitempty"`
}

// NewPrimeExecutor 构造 prime 任务执行器：在 [2, limit] 内找素数，
// 分段推进并周期性 checkpoint，可从最新 checkpoint 恢复。
func NewPrimeExecutor(opts PrimeOptions) worker.Executor {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 1000000
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 5 * time.Second
	}

	return func(ctx context.Context, inv worker.Invocation) (json.RawMessage, error) {
		var p primePayload
		if len(inv.Payload) > 0 {
			if err := json.Unmarshal(inv.Payload, &p); err != nil {
				return nil, fmt.Errorf("invalid payload: %w", err)
			}
		}
		if p.Limit == 0 {
			p.Limit = 100000
		}
		if p.Limit < 0 {
			return nil, fmt.Errorf("limit must be non-negative, got %d", p.Limit)
		}
		if p.Method != "trial_division" {
			p.Method = "sieve"
		}

		result := primeResult{Method: p.Method}
		if p.Limit > opts.MaxLimit {
			result.Warning = fmt.Sprintf("requested limit %d was capped to %d", p.Limit, opts.MaxLimit)
			result.RequestedLimit = p.Limit
			p.Limit = opts.MaxLimit
		}

		keepPrimes := p.Limit <= primesKeepLimit

		// 恢复点：从 last_checked 之后继续
		state := primeState{LastChecked: 1, Method: p.Method}
		var priorElapsed time.Duration
		if inv.Resume != nil {
			if err := json.Unmarshal(inv.Resume.State, &state); err != nil {
				// 恢复点解析不了就从头算，checkpoint 只是加速不是正确性
				taskLog := logger.WithTaskID(inv.TaskID)
				taskLog.Warn().Err(err).Msg("checkpoint 解析失败，从头执行")
				state = primeState{LastChecked: 1, Method: p.Method}
			} else {
				priorElapsed = time.Duration(inv.Resume.ElapsedMS) * time.Millisecond
				result.Resumed = true
			}
		}
		if state.LastChecked < 1 {
			state.LastChecked = 1
		}

		start := time.Now()
		lastCheckpoint := start
		elapsed := func() time.Duration { return priorElapsed + time.Since(start) }

		// 分段推进；每段之后看是否到 checkpoint 周期
		for state.LastChecked < p.Limit {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			hi := state.LastChecked + segmentSize
			if hi > p.Limit {
				hi = p.Limit
			}

			var found []int64
			if p.Method == "trial_division" {
				found = trialDivisionRange(state.LastChecked+1, hi)
			} else {
				found = sieveRange(state.LastChecked+1, hi)
			}

			state.Count += int64(len(found))
			if keepPrimes {
				state.Primes = append(state.Primes, found...)
			}
			state.LastChecked = hi

			if inv.Checkpoint != nil && state.LastChecked < p.Limit &&
				time.Since(lastCheckpoint) >= opts.CheckpointInterval {
				stateBlob, err := json.Marshal(state)
				if err != nil {
					return nil, fmt.Errorf("marshal checkpoint: %w", err)
				}
				if _, err := inv.Checkpoint(stateBlob, elapsed()); err != nil {
					// 续租被拒即租约已丢，立刻停手
					return nil, err
				}
				lastCheckpoint = time.Now()
			}
		}

		result.Count = state.Count
		result.Primes = state.Primes
		result.ComputationTime = elapsed().Seconds()

		blob, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return blob, nil
	}
}

// sieveRange 用分段筛统计 [lo, hi] 内的素数，lo >= 2 时段内独立可恢复
func sieveRange(lo, hi int64) []int64 {
	if hi < 2 {
		return nil
	}
	if lo < 2 {
		lo = 2
	}

	base := basePrimes(hi)
	composite := make([]bool, hi-lo+1)
	for _, p := range base {
		if p*p > hi {
			break
		}
		// 从段内第一个 p 的倍数开始标记；p 本身从 p*p 起步不会被误标
		first := (lo + p - 1) / p * p
		if first < p*p {
			first = p * p
		}
		for m := first; m <= hi; m += p {
			composite[m-lo] = true
		}
	}

	var out []int64
	for n := lo; n <= hi; n++ {
		if !composite[n-lo] {
			out = append(out, n)
		}
	}
	return out
}

// basePrimes 简单埃氏筛求 sqrt(limit) 以内的素数
func basePrimes(limit int64) []int64 {
	var root int64 = 2
	for root*root <= limit {
		root++
	}
	// root 是第一个平方超过 limit 的数

	sieve := make([]bool, root+1)
	var out []int64
	for n := int64(2); n <= root; n++ {
		if sieve[n] {
			continue
		}
		out = append(out, n)
		for m := n * n; m <= root; m += n {
			sieve[m] = true
		}
	}
	return out
}

// trialDivisionRange 试除法统计 [lo, hi] 内的素数
func trialDivisionRange(lo, hi int64) []int64 {
	var out []int64
	for n := lo; n <= hi; n++ {
		if isPrimeTrial(n) {
			out = append(out, n)
		}
	}
	return out
}

func isPrimeTrial(n int64) bool {
	if n < 2 {
		return false
	}
	for d := int64(2); d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}
