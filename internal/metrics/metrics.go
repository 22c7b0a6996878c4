// Package metrics は認証・セッション・アクセスゲートの Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidInput       = "invalid_input"
	OutcomePasswordMismatch   = "password_mismatch"
	OutcomeUsernameTaken      = "username_taken"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"
)

// セッションイベントのラベル
const (
	SessionCreated   = "created"
	SessionDestroyed = "destroyed"
	SessionExpired   = "expired"
)

// アクセスゲートの判定ラベル
const (
	GateAllowed    = "allowed"
	GateRedirected = "redirected"
	GateRejected   = "rejected"
	GateError      = "error"
)

// Metrics はアプリケーションのメトリクスをまとめた構造体です。
// nil の *Metrics に対する記録は何もしません。
type Metrics struct {
	registry      *prometheus.Registry
	authAttempts  *prometheus.CounterVec
	sessionEvents *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	hashDuration  *prometheus.HistogramVec
}

// New は専用のレジストリにメトリクスを登録して返します。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_library_auth_attempts_total",
				Help: "Total number of register/login/logout attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_library_session_events_total",
				Help: "Total number of session lifecycle events",
			},
			[]string{"event"},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comic_library_gate_decisions_total",
				Help: "Total number of access gate decisions",
			},
			[]string{"decision"},
		),
		hashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comic_library_password_hash_duration_seconds",
				Help:    "Password hash and verify duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.authAttempts,
		m.sessionEvents,
		m.gateDecisions,
		m.hashDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry はメトリクスを登録したレジストリを返します。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用の HTTP ハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuthAttempt は認証操作（register, login, logout）の結果を記録します。
func (m *Metrics) AuthAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// SessionEvent はセッションのライフサイクルイベントを記録します。
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// GateDecision はアクセスゲートの判定を記録します。
func (m *Metrics) GateDecision(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// ObserveHash はハッシュ計算（hash, verify）にかかった時間を記録します。
func (m *Metrics) ObserveHash(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.WithLabelValues(operation).Observe(d.Seconds())
}
