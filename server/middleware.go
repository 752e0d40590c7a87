package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/collabverse/authbridge/identity"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/internal/metrics"
	"github.com/collabverse/authbridge/roles"
)

type authContextKey struct{}

// AuthFromContext returns the AuthData established by RequireAuth, or nil.
func AuthFromContext(ctx context.Context) *identity.AuthData {
	auth, _ := ctx.Value(authContextKey{}).(*identity.AuthData)
	return auth
}

// RequireAuth evaluates the caller's identity through the provider matching
// the tenant's authentication type and stores the result in the request
// context.
func (s *Server) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := identity.FromHTTP(r)
		provider, err := s.identities.Create(req.TenantID)
		if err != nil {
			metrics.AuthEvaluations.WithLabelValues(s.providerLabel(req.TenantID), metrics.OutcomeError).Inc()
			s.renderError(w, r, err)
			return
		}

		auth, err := provider.EnsureUser(r.Context(), req)
		if err != nil {
			outcome := metrics.OutcomeError
			if apperrors.IsKind(err, apperrors.KindUnauthorized) {
				outcome = metrics.OutcomeUnauthorized
			}
			metrics.AuthEvaluations.WithLabelValues(s.providerLabel(req.TenantID), outcome).Inc()
			s.renderError(w, r, err)
			return
		}

		metrics.AuthEvaluations.WithLabelValues(string(auth.AuthType), metrics.OutcomeOK).Inc()
		ctx := context.WithValue(r.Context(), authContextKey{}, auth)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin is RequireAuth plus an active-role gate.
func (s *Server) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		auth := AuthFromContext(r.Context())
		if auth.ActiveRole != roles.RoleAdmin {
			s.renderError(w, r, apperrors.Unauthorized("admin role required"))
			return
		}
		next(w, r)
	})
}

func (s *Server) providerLabel(tenantID string) string {
	tenant, err := s.registry.Get(tenantID)
	if err != nil {
		return "unknown"
	}
	return string(tenant.AuthType)
}

func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("requestId", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.config.GetAllowedOrigins().IsAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", s.config.GetAllowedMethods())
			w.Header().Set("Access-Control-Allow-Headers", s.config.GetAllowedHeaders())
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
