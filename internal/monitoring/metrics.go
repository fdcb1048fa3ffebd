package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record/Update 方法对 nil 接收者是空操作，未启用监控的组件可以直接传 nil。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 收件箱指标
	InboxesCreated prometheus.Counter
	InboxesDeleted prometheus.Counter
	InboxesExpired prometheus.Counter
	InboxesActive  prometheus.Gauge

	// 邮件指标
	MessagesReceived  *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	MessagesTotal     prometheus.Gauge
	OrphansPurged     prometheus.Counter
	MessageSize       prometheus.Histogram
	ProcessingSeconds *prometheus.HistogramVec

	// 内容分析指标
	EnrichmentsTotal *prometheus.CounterVec

	// WebSocket
	WebSocketClients prometheus.Gauge

	// 错误与系统指标
	ErrorsTotal  *prometheus.CounterVec
	PanicsTotal  prometheus.Counter
	SystemUptime prometheus.Gauge
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标，测试中使用独立注册表避免重复注册。
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testinbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testinbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testinbox_inboxes_created_total",
				Help: "Total number of inboxes created",
			},
		),

		InboxesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testinbox_inboxes_deleted_total",
				Help: "Total number of inboxes deleted",
			},
		),

		InboxesExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testinbox_inboxes_expired_total",
				Help: "Total number of inboxes removed by expiry",
			},
		),

		InboxesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testinbox_inboxes_active",
				Help: "Number of active inboxes",
			},
		),

		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testinbox_messages_received_total",
				Help: "Total number of messages stored, by routing outcome",
			},
			[]string{"outcome"},
		),

		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testinbox_messages_rejected_total",
				Help: "Total number of SMTP transmissions rejected, by reason",
			},
			[]string{"reason"},
		),

		MessagesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testinbox_messages_total",
				Help: "Number of messages currently stored",
			},
		),

		OrphansPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testinbox_orphans_purged_total",
				Help: "Total number of orphan messages purged",
			},
		),

		MessageSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "testinbox_message_size_bytes",
				Help:    "Raw message size in bytes",
				Buckets: prometheus.ExponentialBuckets(512, 4, 8),
			},
		),

		ProcessingSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testinbox_email_processing_duration_seconds",
				Help:    "Email processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		EnrichmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testinbox_enrichments_total",
				Help: "Total number of enrichment attempts, by result",
			},
			[]string{"result"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testinbox_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testinbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testinbox_panics_total",
				Help: "Total number of panics",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testinbox_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordInboxCreated 记录收件箱创建
func (m *Metrics) RecordInboxCreated() {
	if m == nil {
		return
	}
	m.InboxesCreated.Inc()
}

// RecordInboxDeleted 记录收件箱删除
func (m *Metrics) RecordInboxDeleted() {
	if m == nil {
		return
	}
	m.InboxesDeleted.Inc()
}

// RecordPurge 记录一次过期清理
func (m *Metrics) RecordPurge(inboxes, orphans int) {
	if m == nil {
		return
	}
	m.InboxesExpired.Add(float64(inboxes))
	m.OrphansPurged.Add(float64(orphans))
}

// RecordMessageReceived 记录邮件入库，outcome 为 routed 或 orphan
func (m *Metrics) RecordMessageReceived(outcome string, size int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.MessageSize.Observe(float64(size))
	}
}

// RecordMessageRejected 记录被拒绝的 SMTP 投递
func (m *Metrics) RecordMessageRejected(reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// RecordEmailProcessingTime 记录邮件处理时间
func (m *Metrics) RecordEmailProcessingTime(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProcessingSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordEnrichment 记录内容分析结果
func (m *Metrics) RecordEnrichment(result string) {
	if m == nil {
		return
	}
	m.EnrichmentsTotal.WithLabelValues(result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// UpdateStoreGauges 更新存储相关的瞬时指标
func (m *Metrics) UpdateStoreGauges(inboxes, messages int) {
	if m == nil {
		return
	}
	m.InboxesActive.Set(float64(inboxes))
	m.MessagesTotal.Set(float64(messages))
}

// UpdateWebSocketClients 更新 WebSocket 连接数
func (m *Metrics) UpdateWebSocketClients(count int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(count))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
