// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果ラベル
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
)

// トークン拒否理由ラベル
const (
	TokenMalformed        = "malformed"
	TokenInvalidSignature = "invalid_signature"
	TokenExpired          = "expired"
	TokenUnknownSubject   = "unknown_subject"
)

// いいね結果ラベル
const (
	LikeCreated      = "created"
	LikeDuplicate    = "duplicate"
	LikeSelf         = "self_like"
	LikePostNotFound = "post_not_found"
	LikeUserNotFound = "user_not_found"
	LikeError        = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordRegistration()
	RecordTokenRejected(reason string)
	RecordLike(outcome string)
	RecordPostsImported(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	registrations  prometheus.Counter
	tokenRejected  *prometheus.CounterVec
	likes          *prometheus.CounterVec
	postsImported  prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarbl_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarbl_registrations_total",
			Help: "ユーザー登録の合計数",
		}),
		tokenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarbl_token_rejected_total",
			Help: "理由別の拒否されたベアラートークン数",
		}, []string{"reason"}),
		likes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarbl_likes_total",
			Help: "結果別のいいね試行数",
		}, []string{"outcome"}),
		postsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smarbl_posts_imported_total",
			Help: "フィードからインポートされた投稿の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smarbl_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smarbl_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.tokenRejected,
		c.likes,
		c.postsImported,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordTokenRejected はトークン拒否を理由別に記録する。
func (c *Collector) RecordTokenRejected(reason string) {
	c.tokenRejected.WithLabelValues(reason).Inc()
}

// RecordLike はいいね試行の結果を記録する。
func (c *Collector) RecordLike(outcome string) {
	c.likes.WithLabelValues(outcome).Inc()
}

// RecordPostsImported はインポートされた投稿数を記録する。
func (c *Collector) RecordPostsImported(count int) {
	c.postsImported.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                 {}
func (NopCollector) RecordRegistration()                {}
func (NopCollector) RecordTokenRejected(string)         {}
func (NopCollector) RecordLike(string)                  {}
func (NopCollector) RecordPostsImported(int)            {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
