package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 聚合全部 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 投递指标
	emailsSentTotal      prometheus.Counter
	emailsInboundTotal   prometheus.Counter
	deliveryDegradations *prometheus.CounterVec
	rateLimitBlocksTotal prometheus.Counter

	// 通知指标
	pushAttemptsTotal        *prometheus.CounterVec
	staleDevicesRemovedTotal prometheus.Counter
	notificationsStoredTotal prometheus.Counter

	// 错误指标
	errorsTotal *prometheus.CounterVec
	panicsTotal prometheus.Counter

	// 系统指标
	memoryUsage   prometheus.Gauge
	uptimeSeconds prometheus.Gauge
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roxmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roxmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roxmail_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roxmail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		emailsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_emails_sent_total",
			Help: "Total number of emails accepted for delivery",
		}),
		emailsInboundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_emails_inbound_total",
			Help: "Total number of emails accepted over SMTP",
		}),
		deliveryDegradations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roxmail_delivery_degradations_total",
				Help: "Deliveries that succeeded with a degraded stage",
			},
			[]string{"stage"},
		),
		rateLimitBlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_rate_limit_blocks_total",
			Help: "Sends rejected by the hourly rate limit",
		}),

		pushAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roxmail_push_attempts_total",
				Help: "Push gateway attempts by result",
			},
			[]string{"result"},
		),
		staleDevicesRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_stale_devices_removed_total",
			Help: "Device registrations removed after token invalidation",
		}),
		notificationsStoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_notifications_stored_total",
			Help: "Notification records persisted",
		}),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roxmail_errors_total",
				Help: "Total number of errors by type and component",
			},
			[]string{"type", "component"},
		),
		panicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roxmail_panics_total",
			Help: "Total number of recovered panics",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roxmail_memory_usage_bytes",
			Help: "Current heap memory usage",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roxmail_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestSize,
		m.httpResponseSize,
		m.emailsSentTotal,
		m.emailsInboundTotal,
		m.deliveryDegradations,
		m.rateLimitBlocksTotal,
		m.pushAttemptsTotal,
		m.staleDevicesRemovedTotal,
		m.notificationsStoredTotal,
		m.errorsTotal,
		m.panicsTotal,
		m.memoryUsage,
		m.uptimeSeconds,
	)

	return m
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.httpRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordEmailSent 记录一次成功的外发投递
func (m *Metrics) RecordEmailSent() {
	m.emailsSentTotal.Inc()
}

// RecordEmailInbound 记录一次 SMTP 入站投递
func (m *Metrics) RecordEmailInbound() {
	m.emailsInboundTotal.Inc()
}

// RecordDeliveryDegradation 记录一次降级阶段
func (m *Metrics) RecordDeliveryDegradation(stage string) {
	m.deliveryDegradations.WithLabelValues(stage).Inc()
}

// RecordRateLimitBlock 记录一次限流拒绝
func (m *Metrics) RecordRateLimitBlock() {
	m.rateLimitBlocksTotal.Inc()
}

// RecordPushAttempt 记录一次推送尝试
func (m *Metrics) RecordPushAttempt(result string) {
	m.pushAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordStaleDeviceRemoved 记录一次失效设备清理
func (m *Metrics) RecordStaleDeviceRemoved() {
	m.staleDevicesRemovedTotal.Inc()
}

// RecordNotificationStored 记录一条落盘的通知
func (m *Metrics) RecordNotificationStored() {
	m.notificationsStoredTotal.Inc()
}

// RecordError 记录一次错误
func (m *Metrics) RecordError(errorType, component string) {
	m.errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录一次 panic
func (m *Metrics) RecordPanic() {
	m.panicsTotal.Inc()
}

// UpdateMemoryUsage 更新内存占用
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	m.memoryUsage.Set(float64(bytes))
}

// UpdateUptime 更新运行时长
func (m *Metrics) UpdateUptime(uptime time.Duration) {
	m.uptimeSeconds.Set(uptime.Seconds())
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
