package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// 流转结果标签
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 表单创建数
	formsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forms_created_total",
			Help: "Total number of forms created",
		},
	)

	// 生命周期流转数
	formTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_transitions_total",
			Help: "Total number of form lifecycle transitions",
		},
		[]string{"action", "result"},
	)

	// 附件上传字节数
	attachmentBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "form_attachment_bytes_total",
			Help: "Total bytes of attachments stored",
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 表单状态分布
	formsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forms_by_status",
			Help: "Number of forms by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(formsCreatedTotal)
	prometheus.MustRegister(formTransitionsTotal)
	prometheus.MustRegister(attachmentBytesTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(formsByStatus)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordFormCreated 记录表单创建
func RecordFormCreated() {
	formsCreatedTotal.Inc()
}

// RecordTransition 记录生命周期流转
func RecordTransition(action string, accepted bool) {
	result := ResultRejected
	if accepted {
		result = ResultAccepted
	}
	formTransitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordAttachmentBytes 记录附件写入字节数
func RecordAttachmentBytes(n int64) {
	attachmentBytesTotal.Add(float64(n))
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateFormsByStatus 更新表单状态分布指标
func UpdateFormsByStatus(status string, count float64) {
	formsByStatus.WithLabelValues(status).Set(count)
}
