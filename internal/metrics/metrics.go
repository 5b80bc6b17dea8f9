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
// 上流クライアント、データアクセス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration)
	RecordRateLimited(source string)
	RecordFallback(kind string, reason string)
	RecordRefreshSuccess(handle string)
	RecordRefreshFailure(handle string, reason string)
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordCacheHit(string)                         {}
func (Nop) RecordCacheMiss(string)                        {}
func (Nop) RecordUpstreamCall(string, int, time.Duration) {}
func (Nop) RecordRateLimited(string)                      {}
func (Nop) RecordFallback(string, string)                 {}
func (Nop) RecordRefreshSuccess(string)                   {}
func (Nop) RecordRefreshFailure(string, string)           {}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	refreshSuccess  prometheus.Counter
	refreshFail     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwatch_cache_hits_total",
			Help: "キャッシュヒット数",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwatch_cache_misses_total",
			Help: "キャッシュミス数",
		}, []string{"kind"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwatch_upstream_responses_total",
			Help: "上流APIのエンドポイント・ステータスコード別のレスポンス数",
		}, []string{"endpoint", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialwatch_upstream_latency_seconds",
			Help:    "上流API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwatch_rate_limited_total",
			Help: "レート制限により拒否された呼び出し数",
		}, []string{"source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialwatch_mock_fallbacks_total",
			Help: "上流失敗によりモックデータへフォールバックした回数",
		}, []string{"kind", "reason"}),
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialwatch_refresh_success_total",
			Help: "監視アカウントの定期取得成功数",
		}),
		refreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialwatch_refresh_fail_total",
			Help: "監視アカウントの定期取得失敗数",
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.upstreamStatus,
		c.upstreamLatency,
		c.rateLimited,
		c.fallbacks,
		c.refreshSuccess,
		c.refreshFail,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。kind は profile または posts。
func (c *Collector) RecordCacheHit(kind string) {
	c.cacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(kind string) {
	c.cacheMisses.WithLabelValues(kind).Inc()
}

// RecordUpstreamCall は上流API呼び出しの結果とレイテンシを記録する。
// 通信自体に失敗した場合のステータスコードは0とする。
func (c *Collector) RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration) {
	c.upstreamStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。source は local、upstream または api。
func (c *Collector) RecordRateLimited(source string) {
	c.rateLimited.WithLabelValues(source).Inc()
}

// RecordFallback はモックデータへのフォールバックを記録する。
func (c *Collector) RecordFallback(kind string, reason string) {
	c.fallbacks.WithLabelValues(kind, reason).Inc()
}

// RecordRefreshSuccess は定期取得の成功を記録する。
func (c *Collector) RecordRefreshSuccess(handle string) {
	c.refreshSuccess.Inc()
}

// RecordRefreshFailure は定期取得の失敗を記録する。
func (c *Collector) RecordRefreshFailure(handle string, reason string) {
	c.refreshFail.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
