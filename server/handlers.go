package server

import (
	"net/http"

	"github.com/collabverse/authbridge/identity"
	"github.com/collabverse/authbridge/identity/onprem"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/internal/metrics"
	"github.com/collabverse/authbridge/loginflow"
)

// LoginHandler runs the login state machine. A single route serves all
// three states: the first visit, the provider callback, and the provider
// refusal, distinguished by the query parameters.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch state := loginflow.Classify(q); state {
		case loginflow.StateStart:
			s.loginTransition(w, r, "start", s.login.Start)
		case loginflow.StateCallback:
			s.loginTransition(w, r, "callback", s.login.Callback)
		case loginflow.StateFailure:
			metrics.LoginTransitions.WithLabelValues("failure", metrics.OutcomeUnauthorized).Inc()
			s.renderError(w, r, s.login.Fail(q))
		}
	}
}

func (s *Server) loginTransition(w http.ResponseWriter, r *http.Request, state string, fn func(http.ResponseWriter, *http.Request) error) {
	if err := fn(w, r); err != nil {
		metrics.LoginTransitions.WithLabelValues(state, metrics.OutcomeError).Inc()
		s.renderError(w, r, err)
		return
	}
	metrics.LoginTransitions.WithLabelValues(state, metrics.OutcomeOK).Inc()
}

// LogoutPrepareHandler captures the authenticated session's logout context
// ahead of the unauthenticated browser navigation to /auth/logout.
func (s *Server) LogoutPrepareHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := AuthFromContext(r.Context())
		if err := s.logout.Prepare(w, r, auth); err != nil {
			s.renderError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"prepared": true})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.logout.Logout(w, r); err != nil {
			s.renderError(w, r, err)
		}
	}
}

// SessionAliveHandler probes whether the on-prem engine still recognizes
// the session named by the request headers and cookie.
func (s *Server) SessionAliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := identity.FromHTTP(r)
		tenant, err := s.registry.Get(req.TenantID)
		if err != nil {
			s.renderError(w, r, err)
			return
		}

		sessionID := req.Cookies[onprem.SessionCookieName(tenant, req.Viewpoint)]
		alive, err := s.sessions.SessionAlive(r.Context(), req.TenantID, req.Viewpoint, sessionID)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"alive": alive})
	}
}

// SessionFinalizeHandler exchanges a cookie-established engine session for
// the session id handed back to the product client.
func (s *Server) SessionFinalizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := s.sessions.FinalizeSession(r.Context(), identity.FromHTTP(r))
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
	}
}

// MeHandler returns the caller's established identity. The session id never
// serializes.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, AuthFromContext(r.Context()))
	}
}

// UserListHandler enumerates the users authorized for the resolved app,
// optionally enriched with emails and mapped roles.
func (s *Server) UserListHandler(full bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := AuthFromContext(r.Context())
		provider, err := s.identities.Create(auth.TenantID)
		if err != nil {
			s.renderError(w, r, err)
			return
		}

		appName := r.Header.Get(identity.HeaderAppName)
		var members []identity.Member
		if full {
			members, err = provider.UserFullList(r.Context(), auth.TenantID, auth.CustomerID, appName)
		} else {
			members, err = provider.UserList(r.Context(), auth.TenantID, auth.CustomerID, appName)
		}
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"users": members})
	}
}

func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.issuer.JWKS()
		if err != nil {
			s.renderError(w, r, apperrors.Wrap(err, apperrors.KindInternal, "jwks export failed"))
			return
		}
		s.writeJSON(w, http.StatusOK, jwks)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.registry.List(0, 1); err != nil {
			s.renderError(w, r, apperrors.Wrap(err, apperrors.KindInternal, "tenant registry unavailable"))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
