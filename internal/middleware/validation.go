package middleware

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// MaxPayloadSize 最大 payload 大小（2MB）
	MaxPayloadSize = 2 * 1024 * 1024
)

var (
	// WorkerIDRegex Worker ID 正则（字母数字下划线连字符，3-64字符）
	WorkerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

	// TaskTypeRegex 任务类型正则（字母数字下划线，1-64字符）
	TaskTypeRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)
)

// PayloadSizeLimit Payload 大小限制中间件
func PayloadSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "请求体过大，最大允许 2MB",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ValidateWorkerID 验证 Worker ID
func ValidateWorkerID(workerID string) bool {
	return WorkerIDRegex.MatchString(workerID)
}

// ValidateTaskType 验证任务类型
func ValidateTaskType(taskType string) bool {
	return TaskTypeRegex.MatchString(taskType)
}

// ParseTaskID 解析并验证路径里的 task_id（正整数）
func ParseTaskID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ValidateWorkerIDParam Gin 中间件：验证路径参数中的 worker_id
func ValidateWorkerIDParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID := c.Param("worker_id")
		if workerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "worker_id 参数缺失",
			})
			c.Abort()
			return
		}

		if !ValidateWorkerID(workerID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "worker_id 格式无效，必须是3-64个字母、数字、下划线或连字符",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ValidateTaskIDParam Gin 中间件：验证路径参数中的 task_id
func ValidateTaskIDParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ParseTaskID(c.Param("task_id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "task_id 格式无效，必须是正整数",
			})
			c.Abort()
			return
		}

		c.Set("task_id", id)
		c.Next()
	}
}

// CORSMiddleware CORS 中间件（内部系统可选）
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
