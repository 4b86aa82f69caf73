package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/azhengyongqin/dispatch-hub/sdk"
)

// 批量提交素数任务的小工具：
//
//	addtask -count 5
//	addtask -count 3 -limit 200000
//	addtask -count 2 -limit 100000 -method trial_division -wait
func main() {
	_ = godotenv.Load()

	var (
		coordinatorURL = flag.String("url", envOr("COORDINATOR_URL", "http://localhost:28080"), "协调器地址")
		count          = flag.Int("count", 1, "提交任务数")
		limit          = flag.Int64("limit", 100000, "素数上限")
		method         = flag.String("method", "sieve", "计算方法 (sieve | trial_division)")
		wait           = flag.Bool("wait", false, "轮询等待全部任务结束")
	)
	flag.Parse()

	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "count 必须是正整数")
		os.Exit(1)
	}
	if *method != "sieve" && *method != "trial_division" {
		fmt.Fprintf(os.Stderr, "未知方法 %q，使用 sieve\n", *method)
		*method = "sieve"
	}

	client := sdk.NewClient(*coordinatorURL)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"limit":  *limit,
		"method": *method,
	})

	fmt.Printf("向 %s 提交 %d 个 prime 任务 (limit=%d, method=%s)\n", *coordinatorURL, *count, *limit, *method)

	var ids []int64
	for i := 0; i < *count; i++ {
		var taskID int64
		err := sdk.WithRetry(ctx, sdk.DefaultRetryConfig(), func(ctx context.Context) error {
			var err error
			taskID, err = client.SubmitTask(ctx, "prime", payload)
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "  ✗ 第 %d 个任务提交失败: %v\n", i+1, err)
			os.Exit(1)
		}
		fmt.Printf("  ✓ 已提交 task_id=%d\n", taskID)
		ids = append(ids, taskID)
	}

	if !*wait {
		return
	}

	fmt.Println("等待任务结束...")
	pending := map[int64]bool{}
	for _, id := range ids {
		pending[id] = true
	}
	for len(pending) > 0 {
		time.Sleep(2 * time.Second)
		for id := range pending {
			info, err := client.GetTask(ctx, id)
			if err != nil {
				continue
			}
			if info.Task.Status == "completed" || info.Task.Status == "failed" {
				fmt.Printf("  task %d -> %s (attempts=%d)\n", id, info.Task.Status, info.Task.Attempts)
				delete(pending, id)
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
