// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Webhookハンドラーと再取得スケジューラから利用する。
type MetricsCollector interface {
	RecordNotifications(count int)
	RecordSignatureFailure()
	RecordTaskScheduled(kind string)
	RecordTaskCompleted(kind string, duration time.Duration)
	RecordTaskFailed(kind string, reason string)
	SetQueueDepth(depth int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	notifications    prometheus.Counter
	signatureFail    prometheus.Counter
	taskScheduled    *prometheus.CounterVec
	taskCompleted    *prometheus.CounterVec
	taskFailed       *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	queueDepth       prometheus.Gauge
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediahook_notifications_received_total",
			Help: "受信した更新通知の合計数",
		}),
		signatureFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediahook_signature_failures_total",
			Help: "署名検証に失敗したWebhook呼び出しの合計数",
		}),
		taskScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediahook_reconcile_scheduled_total",
			Help: "スケジュールされた再取得タスクの合計数",
		}, []string{"kind"}),
		taskCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediahook_reconcile_completed_total",
			Help: "完了した再取得タスクの合計数",
		}, []string{"kind"}),
		taskFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediahook_reconcile_failed_total",
			Help: "失敗として記録された再取得タスクの合計数",
		}, []string{"kind", "reason"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediahook_reconcile_latency_seconds",
			Help:    "再取得タスクの処理時間（秒、遅延待機を除く）",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediahook_reconcile_queue_depth",
			Help: "未完了の再取得タスク数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediahook_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.notifications,
		c.signatureFail,
		c.taskScheduled,
		c.taskCompleted,
		c.taskFailed,
		c.reconcileLatency,
		c.queueDepth,
		c.httpStatus,
	)

	return c
}

// RecordNotifications は受信した通知数を記録する。
func (c *Collector) RecordNotifications(count int) {
	c.notifications.Add(float64(count))
}

// RecordSignatureFailure は署名検証失敗を記録する。
func (c *Collector) RecordSignatureFailure() {
	c.signatureFail.Inc()
}

// RecordTaskScheduled はタスクのスケジュールを記録する。
func (c *Collector) RecordTaskScheduled(kind string) {
	c.taskScheduled.WithLabelValues(kind).Inc()
}

// RecordTaskCompleted はタスクの完了と処理時間を記録する。
func (c *Collector) RecordTaskCompleted(kind string, duration time.Duration) {
	c.taskCompleted.WithLabelValues(kind).Inc()
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordTaskFailed はタスクの失敗を記録する。
func (c *Collector) RecordTaskFailed(kind string, reason string) {
	c.taskFailed.WithLabelValues(kind, reason).Inc()
}

// SetQueueDepth は未完了タスク数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordNotifications(int)                   {}
func (Nop) RecordSignatureFailure()                   {}
func (Nop) RecordTaskScheduled(string)                {}
func (Nop) RecordTaskCompleted(string, time.Duration) {}
func (Nop) RecordTaskFailed(string, string)           {}
func (Nop) SetQueueDepth(int)                         {}
func (Nop) RecordHTTPStatus(int)                      {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
