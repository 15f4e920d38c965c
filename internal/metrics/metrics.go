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
// アカウントサービス、HTTPミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignup(result string)
	RecordLogin(result string)
	RecordVerificationEmail(result string)
	RecordEmailVerified(result string)
	RecordPasswordReset(stage, result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCleanup(kind string, rows int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signup            *prometheus.CounterVec
	login             *prometheus.CounterVec
	verificationEmail *prometheus.CounterVec
	emailVerified     *prometheus.CounterVec
	passwordReset     *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	cleanupRows       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_signup_total",
			Help: "サインアップの結果別件数",
		}, []string{"result"}),
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_login_total",
			Help: "ログインの結果別件数",
		}, []string{"result"}),
		verificationEmail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_verification_email_total",
			Help: "確認メール送信の結果別件数",
		}, []string{"result"}),
		emailVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_email_verified_total",
			Help: "メールアドレス確認の結果別件数",
		}, []string{"result"}),
		passwordReset: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_password_reset_total",
			Help: "パスワードリセットの段階・結果別件数",
		}, []string{"stage", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accounts_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_cleanup_rows_total",
			Help: "メンテナンスジョブが処理した行数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.signup,
		c.login,
		c.verificationEmail,
		c.emailVerified,
		c.passwordReset,
		c.httpStatus,
		c.requestLatency,
		c.cleanupRows,
	)

	return c
}

// RecordSignup はサインアップの結果を記録する。
func (c *Collector) RecordSignup(result string) {
	c.signup.WithLabelValues(result).Inc()
}

// RecordLogin はログインの結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// RecordVerificationEmail は確認メール送信の結果を記録する。
func (c *Collector) RecordVerificationEmail(result string) {
	c.verificationEmail.WithLabelValues(result).Inc()
}

// RecordEmailVerified はメールアドレス確認の結果を記録する。
func (c *Collector) RecordEmailVerified(result string) {
	c.emailVerified.WithLabelValues(result).Inc()
}

// RecordPasswordReset はパスワードリセット各段階の結果を記録する。
func (c *Collector) RecordPasswordReset(stage, result string) {
	c.passwordReset.WithLabelValues(stage, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCleanup はメンテナンスジョブが処理した行数を記録する。
func (c *Collector) RecordCleanup(kind string, rows int64) {
	c.cleanupRows.WithLabelValues(kind).Add(float64(rows))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集エラーは可能な範囲で無視し、取得できたメトリクスを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
