package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azhengyongqin/dispatch-hub/internal/worker"
)

// NewComputeExecutor 通用计算任务：按 payload 里的 type 分发。
// 目前只有 prime 一种真实计算，其它类型回显成功（与历史行为一致）。
func NewComputeExecutor(prime worker.Executor) worker.Executor {
	return func(ctx context.Context, inv worker.Invocation) (json.RawMessage, error) {
		var p struct {
			Type string `json:"type"`
		}
		if len(inv.Payload) > 0 {
			if err := json.Unmarshal(inv.Payload, &p); err != nil {
				return nil, fmt.Errorf("invalid payload: %w", err)
			}
		}
		if p.Type == "" || p.Type == "prime" {
			return prime(ctx, inv)
		}

		blob, err := json.Marshal(map[string]any{
			"result":           fmt.Sprintf("processed compute task %d", inv.TaskID),
			"computation_type": p.Type,
		})
		if err != nil {
			return nil, err
		}
		return blob, nil
	}
}

// RegisterAll 注册全部内置执行器
func RegisterAll(r *worker.Registry, opts PrimeOptions) error {
	prime := NewPrimeExecutor(opts)
	if err := r.Register("prime", prime); err != nil {
		return err
	}
	return r.Register("compute", NewComputeExecutor(prime))
}
