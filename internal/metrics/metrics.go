// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 照合の経路。
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
	SourceGate    = "gate"
)

// 照合・ダウンロード等の結果ラベル。
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeServed    = "served"
	OutcomeForbidden = "forbidden"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordCheckoutSession(outcome string)
	RecordReconciliation(source, outcome string)
	RecordWebhookRejected()
	RecordDownload(outcome string)
	RecordEntitlementRepairs(count int)
	RecordHTTPStatus(statusCode int)
	RecordPaymentLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkoutSessions   *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	webhookRejected    prometheus.Counter
	downloads          *prometheus.CounterVec
	entitlementRepairs prometheus.Counter
	httpStatus         *prometheus.CounterVec
	paymentLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vocabstore_checkout_sessions_total",
			Help: "Checkoutセッション作成の結果別件数",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vocabstore_reconciliations_total",
			Help: "決済照合の経路・結果別件数",
		}, []string{"source", "outcome"}),
		webhookRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vocabstore_webhook_signature_rejected_total",
			Help: "署名検証に失敗したWebhookの合計数",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vocabstore_downloads_total",
			Help: "ダウンロード要求の結果別件数",
		}, []string{"outcome"}),
		entitlementRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vocabstore_entitlement_repairs_total",
			Help: "台帳から購入済み集合を修復した件数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vocabstore_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		paymentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocabstore_payment_latency_seconds",
			Help:    "決済プロセッサ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.checkoutSessions,
		c.reconciliations,
		c.webhookRejected,
		c.downloads,
		c.entitlementRepairs,
		c.httpStatus,
		c.paymentLatency,
	)

	return c
}

// RecordCheckoutSession はCheckoutセッション作成の結果を記録する。
func (c *Collector) RecordCheckoutSession(outcome string) {
	c.checkoutSessions.WithLabelValues(outcome).Inc()
}

// RecordReconciliation は決済照合の結果を記録する。
func (c *Collector) RecordReconciliation(source, outcome string) {
	c.reconciliations.WithLabelValues(source, outcome).Inc()
}

// RecordWebhookRejected は署名検証に失敗したWebhookを記録する。
func (c *Collector) RecordWebhookRejected() {
	c.webhookRejected.Inc()
}

// RecordDownload はダウンロード要求の結果を記録する。
func (c *Collector) RecordDownload(outcome string) {
	c.downloads.WithLabelValues(outcome).Inc()
}

// RecordEntitlementRepairs は購入済み集合の修復件数を記録する。
func (c *Collector) RecordEntitlementRepairs(count int) {
	c.entitlementRepairs.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPaymentLatency は決済プロセッサ呼び出しのレイテンシを記録する。
func (c *Collector) RecordPaymentLatency(duration time.Duration) {
	c.paymentLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。CLIの単発コマンドやテストで使う。
type Nop struct{}

func (Nop) RecordCheckoutSession(string)        {}
func (Nop) RecordReconciliation(string, string) {}
func (Nop) RecordWebhookRejected()              {}
func (Nop) RecordDownload(string)               {}
func (Nop) RecordEntitlementRepairs(int)        {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordPaymentLatency(time.Duration)  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
