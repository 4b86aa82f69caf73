package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/azhengyongqin/dispatch-hub/internal/logger"
)

// CacheEntry 一条待投递的结果
type CacheEntry struct {
	TaskID    int64           `json:"task_id"`
	WorkerID  string          `json:"worker_id"`
	Status    string          `json:"status"` // success / failed
	Blob      json.RawMessage `json:"blob"`
	CreatedAt time.Time       `json:"created_at"`
}

// CachedFile 磁盘上的缓存条目
type CachedFile struct {
	Path  string
	Entry CacheEntry
}

// SubmissionCache worker 本地的结果投递缓存。
// 协调器不可达时结果落盘，后台按周期重试；TTL 限制磁盘占用。
// 缓存不保证投递——它只是缩小崩溃导致重复执行的窗口。
type SubmissionCache struct {
	dir string
	ttl time.Duration
}

// NewSubmissionCache 创建缓存目录（每个 worker 一个子目录）
func NewSubmissionCache(dir, workerID string, ttl time.Duration) (*SubmissionCache, error) {
	full := filepath.Join(dir, workerID)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &SubmissionCache{dir: full, ttl: ttl}, nil
}

// Dir 缓存目录路径
func (c *SubmissionCache) Dir() string { return c.dir }

// Save 追加一条缓存，按 task_id 命名，先写临时文件再改名
func (c *SubmissionCache) Save(entry CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	name := fmt.Sprintf("task_%d_%d.json", entry.TaskID, entry.CreatedAt.UnixNano())
	tmp := filepath.Join(c.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, name)); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}

	logger.L.Info().
		Int64("task_id", entry.TaskID).
		Str("file", name).
		Msg("结果已缓存，等待重试投递")
	return nil
}

// Load 读出全部缓存条目。超过 TTL 的条目告警后丢弃，
// 损坏的文件同样丢弃（不能让一个坏文件卡死重试循环）。
func (c *SubmissionCache) Load() ([]CachedFile, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	now := time.Now().UTC()
	var out []CachedFile
	for _, e := range ents {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(c.dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			logger.L.Warn().Err(err).Str("file", e.Name()).Msg("缓存文件不可读，跳过")
			continue
		}

		var entry CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			logger.L.Warn().Err(err).Str("file", e.Name()).Msg("缓存文件损坏，丢弃")
			_ = os.Remove(path)
			continue
		}

		if c.ttl > 0 && now.Sub(entry.CreatedAt) > c.ttl {
			logger.L.Warn().
				Int64("task_id", entry.TaskID).
				Time("created_at", entry.CreatedAt).
				Msg("缓存条目超过 TTL，丢弃")
			_ = os.Remove(path)
			continue
		}

		out = append(out, CachedFile{Path: path, Entry: entry})
	}
	return out, nil
}

// Remove 删除一条缓存（投递成功或被拒后）
func (c *SubmissionCache) Remove(path string) error {
	return os.Remove(path)
}
