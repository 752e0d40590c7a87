// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthEvaluations counts identity evaluations by provider variant and
	// outcome (ok, unauthorized, error).
	AuthEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_auth_evaluations_total",
		Help: "Identity evaluations by provider variant and outcome.",
	}, []string{"provider", "outcome"})

	// TokenGrants counts client-credentials grants against external issuers.
	TokenGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_token_grants_total",
		Help: "Client-credentials token grants by issuer and outcome.",
	}, []string{"issuer", "outcome"})

	// LoginTransitions counts login state machine transitions.
	LoginTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_login_transitions_total",
		Help: "Login handshake transitions by state and outcome.",
	}, []string{"state", "outcome"})

	// HTTPRequests counts handled requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_http_requests_total",
		Help: "Handled HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)

const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)
