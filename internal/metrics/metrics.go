package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relying-party metrics. They live in a standalone package so the flow,
// validator and HTTP layers can all record without importing each other.

var (
	FlowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_flows_total",
		Help: "Authorization flows by provider and outcome (started, completed, failed reason)",
	}, []string{"provider", "result"})

	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_validation_failures_total",
		Help: "ID token validation failures by reason",
	}, []string{"provider", "reason"})

	JWKSRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_jwks_refresh_total",
		Help: "JWKS fetches by result (ok, not_modified, error)",
	}, []string{"provider", "result"})

	TokenExchangeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oidc_token_exchange_seconds",
		Help:    "Latency of the code-for-token exchange",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	AccountsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_accounts_resolved_total",
		Help: "Identity resolutions by mode (existing, linked, created, denied)",
	}, []string{"provider", "mode"})
)

// Register registers the collectors on reg (default registerer if nil).
// Re-registering is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{FlowsTotal, ValidationFailures, JWKSRefreshes, TokenExchangeSeconds, AccountsResolved} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
