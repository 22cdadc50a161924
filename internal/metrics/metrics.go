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
// APIクライアント・セッション管理・各フロー・ワーカーから利用する。
type MetricsCollector interface {
	RecordAPIRequest(method string, status int, d time.Duration)
	RecordSessionTransition(state string)
	RecordPurchase(success bool)
	RecordSearch(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

var _ MetricsCollector = (*Collector)(nil)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests        *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	sessionTransitions *prometheus.CounterVec
	purchases          *prometheus.CounterVec
	searches           *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	sessionsPurged     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umarket_api_requests_total",
			Help: "バックエンドAPIへのリクエスト数（メソッド・ステータス別）",
		}, []string{"method", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "umarket_api_request_duration_seconds",
			Help:    "バックエンドAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umarket_session_transitions_total",
			Help: "セッション状態の遷移数（遷移先の状態別）",
		}, []string{"state"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umarket_purchases_total",
			Help: "購入リクエストの数（結果別）",
		}, []string{"result"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umarket_searches_total",
			Help: "デバウンス検索の数（issued / superseded / stale）",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "umarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "umarket_sessions_purged_total",
			Help: "削除された古い保存済みセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.sessionTransitions,
		c.purchases,
		c.searches,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordAPIRequest はバックエンドAPIへのリクエストを記録する。
// 通信エラーの場合statusは0。
func (c *Collector) RecordAPIRequest(method string, status int, d time.Duration) {
	c.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.apiLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.sessionTransitions.WithLabelValues(state).Inc()
}

// RecordPurchase は購入の成否を記録する。
func (c *Collector) RecordPurchase(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.purchases.WithLabelValues(result).Inc()
}

// RecordSearch はデバウンス検索の結果を記録する。
func (c *Collector) RecordSearch(outcome string) {
	c.searches.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除した保存済みセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
