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
// パイプラインやフィードサービスから利用する。
type MetricsCollector interface {
	RecordPublishStarted(protocol string)
	RecordPublishCompleted(protocol string)
	RecordPublishFailed(stage string)
	RecordSignSkipped(protocol string)
	RecordStageLatency(stage string, duration time.Duration)
	RecordHostingStatus(statusCode int)
	RecordFeedFiltered(kept, dropped int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publishStarted   *prometheus.CounterVec
	publishCompleted *prometheus.CounterVec
	publishFailed    *prometheus.CounterVec
	signSkipped      *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	hostingStatus    *prometheus.CounterVec
	feedKept         prometheus.Counter
	feedDropped      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediapost_publish_started_total",
			Help: "開始されたパブリッシュ処理の合計数",
		}, []string{"protocol"}),
		publishCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediapost_publish_completed_total",
			Help: "完了したパブリッシュ処理の合計数",
		}, []string{"protocol"}),
		publishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediapost_publish_failed_total",
			Help: "失敗したパブリッシュ処理の段階別合計数",
		}, []string{"stage"}),
		signSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediapost_sign_skipped_total",
			Help: "署名できず送信をスキップした回数",
		}, []string{"protocol"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediapost_stage_latency_seconds",
			Help:    "パイプライン段階ごとのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		hostingStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediapost_hosting_status_total",
			Help: "ホスティングサーバーのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		feedKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediapost_feed_kept_total",
			Help: "フィードフィルタを通過したノートの合計数",
		}),
		feedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediapost_feed_dropped_total",
			Help: "フィードフィルタで除外されたノートの合計数",
		}),
	}

	reg.MustRegister(
		c.publishStarted,
		c.publishCompleted,
		c.publishFailed,
		c.signSkipped,
		c.stageLatency,
		c.hostingStatus,
		c.feedKept,
		c.feedDropped,
	)

	return c
}

// RecordPublishStarted はパブリッシュ開始を記録する。
func (c *Collector) RecordPublishStarted(protocol string) {
	c.publishStarted.WithLabelValues(protocol).Inc()
}

// RecordPublishCompleted はパブリッシュ完了を記録する。
func (c *Collector) RecordPublishCompleted(protocol string) {
	c.publishCompleted.WithLabelValues(protocol).Inc()
}

// RecordPublishFailed は失敗した段階を記録する。
func (c *Collector) RecordPublishFailed(stage string) {
	c.publishFailed.WithLabelValues(stage).Inc()
}

// RecordSignSkipped は署名スキップを記録する。
func (c *Collector) RecordSignSkipped(protocol string) {
	c.signSkipped.WithLabelValues(protocol).Inc()
}

// RecordStageLatency は段階ごとのレイテンシを記録する。
func (c *Collector) RecordStageLatency(stage string, duration time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordHostingStatus はホスティングサーバーのHTTPステータスコードを記録する。
func (c *Collector) RecordHostingStatus(statusCode int) {
	c.hostingStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFeedFiltered はフィルタ結果の件数を記録する。
func (c *Collector) RecordFeedFiltered(kept, dropped int) {
	c.feedKept.Add(float64(kept))
	c.feedDropped.Add(float64(dropped))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
