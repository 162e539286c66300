// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 台帳サービス・連携サービス・リコンサイラの各Recorderインターフェースを満たす。
type Collector struct {
	transfers         prometheus.Counter
	fines             prometheus.Counter
	credits           prometheus.Counter
	insufficientFunds prometheus.Counter
	tokensIssued      prometheus.Counter
	tokensRedeemed    prometheus.Counter
	roleGrants        prometheus.Counter
	reconcileFailures prometheus.Counter
	reconcileDuration prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_transfers_total",
			Help: "適用された転送の合計数",
		}),
		fines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_fines_total",
			Help: "適用された没収の合計数",
		}),
		credits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_credits_total",
			Help: "適用された付与の合計数",
		}),
		insufficientFunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_insufficient_funds_total",
			Help: "残高不足で拒否された操作の合計数",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_link_tokens_issued_total",
			Help: "発行された連携トークンの合計数",
		}),
		tokensRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_link_tokens_redeemed_total",
			Help: "消費された連携トークンの合計数",
		}),
		roleGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_role_grants_total",
			Help: "リコンサイルで付与されたロールの合計数",
		}),
		reconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moolabot_reconcile_user_failures_total",
			Help: "リコンサイル中にスキップされたユーザー単位の失敗数",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moolabot_reconcile_duration_seconds",
			Help:    "リコンサイルパスの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.transfers,
		c.fines,
		c.credits,
		c.insufficientFunds,
		c.tokensIssued,
		c.tokensRedeemed,
		c.roleGrants,
		c.reconcileFailures,
		c.reconcileDuration,
	)

	return c
}

// RecordTransfer は転送の適用を記録する。
func (c *Collector) RecordTransfer() {
	c.transfers.Inc()
}

// RecordFine は没収の適用を記録する。
func (c *Collector) RecordFine() {
	c.fines.Inc()
}

// RecordCredit は付与の適用を記録する。
func (c *Collector) RecordCredit() {
	c.credits.Inc()
}

// RecordInsufficientFunds は残高不足による拒否を記録する。
func (c *Collector) RecordInsufficientFunds() {
	c.insufficientFunds.Inc()
}

// RecordTokenIssued は連携トークンの新規発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenRedeemed は連携トークンの消費を記録する。
func (c *Collector) RecordTokenRedeemed() {
	c.tokensRedeemed.Inc()
}

// RecordRoleGrant はロール付与を記録する。
func (c *Collector) RecordRoleGrant() {
	c.roleGrants.Inc()
}

// RecordReconcileUserFailure はユーザー単位のリコンサイル失敗を記録する。
func (c *Collector) RecordReconcileUserFailure() {
	c.reconcileFailures.Inc()
}

// RecordReconcileDuration はリコンサイルパスの所要時間を記録する。
func (c *Collector) RecordReconcileDuration(duration time.Duration) {
	c.reconcileDuration.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
