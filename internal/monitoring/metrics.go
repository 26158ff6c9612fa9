package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 出站指标，outcome ∈ delivered / soft_skip / quota_exceeded /
	// forbidden / no_handle / hard_error
	OutboundSends *prometheus.CounterVec

	// 入站指标，outcome ∈ stored / dropped_unresolved / dropped_orphan /
	// dropped_malformed / error
	InboundMessages *prometheus.CounterVec

	// 注册与滥用指标
	BotsRegistered prometheus.Counter
	BotsClaimed    prometheus.Counter
	AlertsUpserted prometheus.Counter
	AlertsResolved *prometheus.CounterVec // action ∈ approved / ignored

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		OutboundSends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmail_outbound_sends_total",
				Help: "Outbound send attempts by outcome",
			},
			[]string{"outcome"},
		),
		InboundMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmail_inbound_messages_total",
				Help: "Inbound webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		BotsRegistered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botmail_bots_registered_total",
				Help: "Total number of bot registrations",
			},
		),
		BotsClaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botmail_bots_claimed_total",
				Help: "Total number of successful bot claims",
			},
		),
		AlertsUpserted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botmail_signup_alerts_upserted_total",
				Help: "Signup alerts created or refreshed by the abuse scan",
			},
		),
		AlertsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmail_signup_alerts_resolved_total",
				Help: "Signup alerts resolved by admin action",
			},
			[]string{"action"},
		),
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// CountOutbound 记录一次出站结果，nil 安全
func (m *Metrics) CountOutbound(outcome string) {
	if m == nil {
		return
	}
	m.OutboundSends.WithLabelValues(outcome).Inc()
}

// CountInbound 记录一次入站结果，nil 安全
func (m *Metrics) CountInbound(outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
}

// Handler 返回 /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
