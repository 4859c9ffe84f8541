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
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordSessionCreated(analyzed bool)
	RecordSessionReanalyzed()
	RecordBulkOperation(operation string, affected int64)
	RecordHTTPStatus(statusCode int)
	RecordAnalyticsLatency(duration time.Duration)
	RecordAudioUpload(bytes int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated    *prometheus.CounterVec
	sessionsReanalyzed prometheus.Counter
	bulkAffected       *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	analyticsLatency   prometheus.Histogram
	audioUploadBytes   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcoach_sessions_created_total",
			Help: "作成されたスピーチセッションの合計数",
		}, []string{"status"}),
		sessionsReanalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speechcoach_sessions_reanalyzed_total",
			Help: "再解析されたスピーチセッションの合計数",
		}),
		bulkAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcoach_bulk_affected_sessions_total",
			Help: "一括操作で更新・削除されたセッション数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcoach_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		analyticsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcoach_analytics_latency_seconds",
			Help:    "統計値集計のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		audioUploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcoach_audio_upload_bytes",
			Help:    "アップロードされた音声ファイルのサイズ（バイト）",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 7),
		}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsReanalyzed,
		c.bulkAffected,
		c.httpStatus,
		c.analyticsLatency,
		c.audioUploadBytes,
	)

	return c
}

// RecordSessionCreated はセッション作成を記録する。
// 音声添付により解析済みで作成された場合はanalyzedをtrueにする。
func (c *Collector) RecordSessionCreated(analyzed bool) {
	status := "pending"
	if analyzed {
		status = "analyzed"
	}
	c.sessionsCreated.WithLabelValues(status).Inc()
}

// RecordSessionReanalyzed は再解析を記録する。
func (c *Collector) RecordSessionReanalyzed() {
	c.sessionsReanalyzed.Inc()
}

// RecordBulkOperation は一括操作で影響を受けたセッション数を記録する。
func (c *Collector) RecordBulkOperation(operation string, affected int64) {
	c.bulkAffected.WithLabelValues(operation).Add(float64(affected))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAnalyticsLatency は統計値集計のレイテンシを記録する。
func (c *Collector) RecordAnalyticsLatency(duration time.Duration) {
	c.analyticsLatency.Observe(duration.Seconds())
}

// RecordAudioUpload はアップロードされた音声ファイルのサイズを記録する。
func (c *Collector) RecordAudioUpload(bytes int64) {
	c.audioUploadBytes.Observe(float64(bytes))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやCLIから利用する。
type Nop struct{}

func (Nop) RecordSessionCreated(bool) {}
func (Nop) RecordSessionReanalyzed() {}
func (Nop) RecordBulkOperation(string, int64) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordAnalyticsLatency(time.Duration) {}
func (Nop) RecordAudioUpload(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
