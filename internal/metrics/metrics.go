package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchhub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 任务生命周期指标
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchhub_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"task_type"},
	)

	TasksClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchhub_tasks_claimed_total",
			Help: "Total number of successful claims",
		},
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchhub_tasks_completed_total",
			Help: "Total number of terminal results recorded",
		},
		[]string{"status"},
	)

	TasksReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchhub_tasks_reclaimed_total",
			Help: "Total number of tasks returned to pending by the monitor",
		},
	)

	SubmitRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchhub_submit_rejects_total",
			Help: "Total number of contract rejections",
		},
		[]string{"op"},
	)

	CheckpointsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchhub_checkpoints_saved_total",
			Help: "Total number of checkpoints accepted",
		},
	)

	// Worker 指标
	WorkersAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchhub_workers_alive",
			Help: "Number of workers currently marked alive",
		},
	)

	WorkersDead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchhub_workers_dead",
			Help: "Number of workers currently marked dead",
		},
	)

	WorkersMarkedDeadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchhub_workers_marked_dead_total",
			Help: "Total number of workers declared dead by the monitor",
		},
	)

	// 错误指标
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchhub_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "type"},
	)
)

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path string, status int, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordSweep 记录监控扫描结果
func RecordSweep(workersMarkedDead, tasksReclaimed int) {
	if workersMarkedDead > 0 {
		WorkersMarkedDeadTotal.Add(float64(workersMarkedDead))
	}
	if tasksReclaimed > 0 {
		TasksReclaimedTotal.Add(float64(tasksReclaimed))
	}
}

// UpdateWorkerGauges 更新 worker 存活统计
func UpdateWorkerGauges(alive, dead int) {
	WorkersAlive.Set(float64(alive))
	WorkersDead.Set(float64(dead))
}

// RecordError 记录错误
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// statusClass 将 HTTP 状态码转为类别
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
