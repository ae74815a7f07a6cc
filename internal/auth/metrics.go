package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ログイン・登録の結果ラベル
const (
	ResultSuccess            = "success"
	ResultInvalidCredentials = "invalid_credentials"
	ResultInvalidForm        = "invalid_form"
	ResultDuplicateUsername  = "duplicate_username"
	ResultDuplicateEmail     = "duplicate_email"
	ResultError              = "error"
)

// Metrics は認証フローのカウンターです。nil でも呼び出せます。
type Metrics struct {
	logins           *prometheus.CounterVec
	registrations    *prometheus.CounterVec
	logouts          prometheus.Counter
	redirectRejected prometheus.Counter
}

// NewMetrics はカウンターを reg に登録して Metrics を作成します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microblog",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microblog",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
		logouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "microblog",
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
		redirectRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "microblog",
			Subsystem: "auth",
			Name:      "redirect_rejected_total",
			Help:      "Post-login redirect targets discarded because they pointed off-site.",
		}),
	}
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) rejectedRedirect() {
	if m == nil {
		return
	}
	m.redirectRejected.Inc()
}
