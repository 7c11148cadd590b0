// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owasp_lab_login_attempts_total",
		Help: "Login attempts by handler variant and outcome.",
	}, []string{"variant", "outcome"})

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owasp_lab_gate_decisions_total",
		Help: "Request gate decisions by outcome and verification policy.",
	}, []string{"outcome", "verification"})

	CSRFTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "owasp_lab_csrf_tokens_issued_total",
		Help: "Anti-forgery tokens issued.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owasp_lab_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by limiter name.",
	}, []string{"limiter"})

	SweptRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owasp_lab_swept_total",
		Help: "Expired records removed by the sweeper.",
	}, []string{"kind"})
)
