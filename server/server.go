// Package server wires the HTTP surface: identity evaluation on inbound
// requests, the login and logout bridges, and the operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/collabverse/authbridge/identity"
	"github.com/collabverse/authbridge/internal/config"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/loginflow"
	"github.com/collabverse/authbridge/logoutflow"
	"github.com/collabverse/authbridge/tenants"
	"github.com/collabverse/authbridge/token"
)

// SessionBackend is the on-prem session surface: liveness probes and the
// post-login session finalization. Cloud tenants have no equivalent.
type SessionBackend interface {
	SessionAlive(ctx context.Context, tenantID, viewpoint, sessionID string) (bool, error)
	FinalizeSession(ctx context.Context, req *identity.Request) (string, error)
}

type Server struct {
	config     config.Config
	router     chi.Router
	registry   tenants.Repo
	identities *identity.Factory
	sessions   SessionBackend
	login      *loginflow.Bridge
	logout     *logoutflow.Bridge
	issuer     *token.Issuer
	log        zerolog.Logger
}

// Deps carries the wired collaborators. Everything is constructed in main;
// the server only routes.
type Deps struct {
	Registry   tenants.Repo
	Identities *identity.Factory
	Sessions   SessionBackend
	Login      *loginflow.Bridge
	Logout     *logoutflow.Bridge
	Issuer     *token.Issuer
	Logger     zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		config:     cfg,
		registry:   deps.Registry,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		login:      deps.Login,
		logout:     deps.Logout,
		issuer:     deps.Issuer,
		log:        deps.Logger,
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.LoggingMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.CorsMiddleware)

	r.Get("/healthz", s.HealthHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", s.JWKSHandler())

	r.Get("/auth/login", s.LoginHandler())
	r.Get("/auth/logout", s.LogoutHandler())
	r.Post("/auth/logout/prepare", s.RequireAuth(s.LogoutPrepareHandler()))

	r.Get("/auth/session/alive", s.SessionAliveHandler())
	r.Post("/auth/session", s.SessionFinalizeHandler())

	r.Get("/auth/me", s.RequireAuth(s.MeHandler()))
	r.Get("/auth/users", s.RequireAdmin(s.UserListHandler(false)))
	r.Get("/auth/users/full", s.RequireAdmin(s.UserListHandler(true)))

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

// renderError maps an error to its HTTP status. Only the message crosses
// the wire; the structured context stays in the logs.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	event := s.log.Warn()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("path", r.URL.Path).
		Fields(apperrors.ContextOf(err)).
		Msg("request failed")

	message := "internal error"
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		message = appErr.Message
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}
