// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// プロフィール解決の結果ラベル。
const (
	OutcomeFound       = "found"
	OutcomeCreated     = "created"
	OutcomeFetchError  = "fetch_error"
	OutcomeCreateError = "create_error"
	OutcomeSuspended   = "suspended"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証状態ホルダー、プロフィール解決、ルートガード、HTTP層から利用する。
type MetricsCollector interface {
	RecordSessionEvent(kind string)
	RecordProfileResolution(outcome string, duration time.Duration)
	RecordDedupHit()
	RecordGuardDecision(action string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionEvents     *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	resolutionLatency prometheus.Histogram
	dedupHits         prometheus.Counter
	guardDecisions    *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillport_session_events_total",
			Help: "種別ごとのセッション変更イベント数",
		}, []string{"kind"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillport_profile_resolutions_total",
			Help: "結果ごとのプロフィール解決数",
		}, []string{"outcome"}),
		resolutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skillport_profile_resolution_seconds",
			Help:    "プロフィール解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillport_profile_dedup_hits_total",
			Help: "重複排除キャッシュによりスキップされたプロフィール取得の数",
		}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillport_guard_decisions_total",
			Help: "アクションごとのルートガード判定数",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillport_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionEvents,
		c.resolutions,
		c.resolutionLatency,
		c.dedupHits,
		c.guardDecisions,
		c.httpStatus,
	)

	return c
}

// RecordSessionEvent はセッション変更イベントを記録する。
func (c *Collector) RecordSessionEvent(kind string) {
	c.sessionEvents.WithLabelValues(kind).Inc()
}

// RecordProfileResolution はプロフィール解決の結果とレイテンシを記録する。
func (c *Collector) RecordProfileResolution(outcome string, duration time.Duration) {
	c.resolutions.WithLabelValues(outcome).Inc()
	c.resolutionLatency.Observe(duration.Seconds())
}

// RecordDedupHit は重複排除キャッシュのヒットを記録する。
func (c *Collector) RecordDedupHit() {
	c.dedupHits.Inc()
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(action string) {
	c.guardDecisions.WithLabelValues(action).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSessionEvent(string)                     {}
func (Nop) RecordProfileResolution(string, time.Duration) {}
func (Nop) RecordDedupHit()                               {}
func (Nop) RecordGuardDecision(string)                    {}
func (Nop) RecordHTTPStatus(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
