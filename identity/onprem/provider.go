// Package onprem implements the identity provider for tenants backed by an
// on-prem analytics engine, where the caller's identity hangs off a
// cookie-carried engine session id.
package onprem

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/collabverse/authbridge/identity"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/qlik/engine"
	"github.com/collabverse/authbridge/roles"
	"github.com/collabverse/authbridge/tenants"
)

// Per-app custom property suffixes carrying the tenant-specific identity
// attributes inside the engine.
const (
	propRole   = "_role"
	propScopes = "_scopes"
	propEmail  = "_email"
)

// EngineFactory builds the engine client for a tenant. Injectable for tests.
type EngineFactory func(tenant *tenants.Tenant) engine.Client

type Provider struct {
	registry      tenants.Repo
	engineFactory EngineFactory
	defaultRoles  []string
	defaultScopes []string
	log           zerolog.Logger

	enginesLock sync.RWMutex
	engines     map[string]engine.Client
}

var _ identity.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithEngineFactory(factory EngineFactory) Option {
	return func(p *Provider) { p.engineFactory = factory }
}

func WithDefaultRoles(defaultRoles []string) Option {
	return func(p *Provider) { p.defaultRoles = defaultRoles }
}

func WithDefaultScopes(defaultScopes []string) Option {
	return func(p *Provider) { p.defaultScopes = defaultScopes }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

func New(registry tenants.Repo, options ...Option) *Provider {
	p := &Provider{
		registry: registry,
		engineFactory: func(t *tenants.Tenant) engine.Client {
			return engine.NewHTTPClient(t)
		},
		log:     zerolog.Nop(),
		engines: make(map[string]engine.Client),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// EnsureUser establishes the caller's identity from the engine session
// referenced by the request cookie. Engine-level failures are normalized to
// a single unauthorized error; diagnostic detail travels as structured
// context, never in the user-facing message.
func (p *Provider) EnsureUser(ctx context.Context, req *identity.Request) (*identity.AuthData, error) {
	res, err := tenants.Resolve(p.registry, req.TenantID, req.CustomerID, req.AppName)
	if err != nil {
		return nil, err
	}

	sessionID := req.Cookies[SessionCookieName(res.Tenant, req.Viewpoint)]
	if sessionID == "" {
		return nil, apperrors.Unauthorized("could not establish identity").
			With("reason", "missing session cookie").
			With("cookie", SessionCookieName(res.Tenant, req.Viewpoint))
	}

	eng := p.engine(res.Tenant)

	appID, err := p.resolveTaggedApp(ctx, eng, res.App.ID)
	if err != nil {
		return nil, err
	}

	props := []string{appID + propRole, appID + propScopes, appID + propEmail}
	user, err := eng.UserBySession(ctx, req.Viewpoint, sessionID, props)
	if err != nil {
		p.log.Debug().Err(err).Str("tenantId", req.TenantID).Msg("session lookup failed")
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "session lookup")
	}

	authorized, err := eng.AppUsers(ctx, appID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "app user list")
	}
	if !containsUser(authorized, user) {
		return nil, apperrors.Unauthorized("could not establish identity").
			With("reason", "user not in app user list").
			With("userId", user.ID).
			With("appId", appID)
	}

	resolvedRoles := roles.Dedupe(splitProperty(user.Properties[appID+propRole]), p.defaultRoles)
	resolvedScopes := roles.Dedupe(splitProperty(user.Properties[appID+propScopes]), p.defaultScopes)

	return &identity.AuthData{
		External: map[string]any{
			"userId":        user.ID,
			"userDirectory": user.Directory,
			"userName":      user.Name,
		},
		User: identity.User{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Properties[appID+propEmail],
		},
		CustomerID: res.Customer.ID,
		TenantID:   res.Tenant.ID,
		AppID:      res.App.ID,
		AuthType:   tenants.AuthTypeWindows,
		Roles:      resolvedRoles,
		Scopes:     resolvedScopes,
		ActiveRole: identity.ActiveRole(resolvedRoles, req.AdminHint),
		Viewpoint:  req.Viewpoint,
		SessionID:  sessionID,
		QlikAppIDs: res.App.QlikAppIDs(),
	}, nil
}

// UserList returns the authorized users of the app matched by tag.
func (p *Provider) UserList(ctx context.Context, tenantID, customerID, appName string) ([]identity.Member, error) {
	users, _, err := p.appUsers(ctx, tenantID, customerID, appName)
	if err != nil {
		return nil, err
	}

	members := make([]identity.Member, 0, len(users))
	for _, u := range users {
		members = append(members, identity.Member{ID: u.ID, Name: u.Name})
	}
	return members, nil
}

// UserFullList enriches each authorized user with the per-app email custom
// property; the raw property bag is discarded.
func (p *Provider) UserFullList(ctx context.Context, tenantID, customerID, appName string) ([]identity.Member, error) {
	users, appID, err := p.appUsers(ctx, tenantID, customerID, appName)
	if err != nil {
		return nil, err
	}

	members := make([]identity.Member, 0, len(users))
	for _, u := range users {
		members = append(members, identity.Member{
			ID:    u.ID,
			Name:  u.Name,
			Email: u.Properties[appID+propEmail],
			Roles: splitProperty(u.Properties[appID+propRole]),
		})
	}
	return members, nil
}

// Logout terminates the engine session. An unacknowledged termination means
// the engine still considers the session live.
func (p *Provider) Logout(ctx context.Context, viewpoint, sessionID, tenantID string) error {
	if sessionID == "" {
		return apperrors.Validation("session id is required for logout")
	}

	tenant, err := p.registry.Get(tenantID)
	if err != nil {
		return err
	}

	acknowledged, err := p.engine(tenant).DeleteSession(ctx, viewpoint, sessionID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "session termination failed").
			With("tenantId", tenantID)
	}
	if !acknowledged {
		return apperrors.Internal("session termination not acknowledged").
			With("tenantId", tenantID)
	}
	return nil
}

// SessionAlive reports whether the engine still recognizes the session id.
func (p *Provider) SessionAlive(ctx context.Context, tenantID, viewpoint, sessionID string) (bool, error) {
	tenant, err := p.registry.Get(tenantID)
	if err != nil {
		return false, err
	}
	if sessionID == "" {
		return false, nil
	}
	if _, err := p.engine(tenant).UserBySession(ctx, viewpoint, sessionID, nil); err != nil {
		return false, nil
	}
	return true, nil
}

// FinalizeSession turns a cookie-established engine session into the
// short-lived session id handed to the product client after login.
func (p *Provider) FinalizeSession(ctx context.Context, req *identity.Request) (string, error) {
	tenant, err := p.registry.Get(req.TenantID)
	if err != nil {
		return "", err
	}

	sessionID := req.Cookies[SessionCookieName(tenant, req.Viewpoint)]
	if sessionID == "" {
		return "", apperrors.Unauthorized("could not establish identity").
			With("reason", "missing session cookie")
	}
	if _, err := p.engine(tenant).UserBySession(ctx, req.Viewpoint, sessionID, nil); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "session lookup")
	}
	return sessionID, nil
}

// SessionCookieName is the cookie carrying the engine session id for a
// viewpoint.
func SessionCookieName(tenant *tenants.Tenant, viewpoint string) string {
	return tenant.SessionHeaderName + "-" + viewpoint
}

// resolveTaggedApp finds the single published engine app carrying the
// mashup app's tag. Zero matches breaks the deployment invariant; more than
// one is an ambiguity that is never broken heuristically.
func (p *Provider) resolveTaggedApp(ctx context.Context, eng engine.Client, tag string) (string, error) {
	apps, err := eng.AppsByTag(ctx, tag)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "app tag query").
			With("tag", tag)
	}

	published := apps[:0]
	for _, a := range apps {
		if a.PublishTime != engine.NeverPublished {
			published = append(published, a)
		}
	}

	switch len(published) {
	case 0:
		return "", apperrors.Internal("no app found").With("tag", tag)
	case 1:
		return published[0].ID, nil
	default:
		return "", apperrors.Conflict("ambiguous app tag").
			With("tag", tag).
			With("matches", len(published))
	}
}

func (p *Provider) appUsers(ctx context.Context, tenantID, customerID, appName string) ([]engine.SessionUser, string, error) {
	res, err := tenants.Resolve(p.registry, tenantID, customerID, appName)
	if err != nil {
		return nil, "", err
	}

	eng := p.engine(res.Tenant)
	appID, err := p.resolveTaggedApp(ctx, eng, res.App.ID)
	if err != nil {
		return nil, "", err
	}

	users, err := eng.AppUsers(ctx, appID)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.KindUnauthorized, "could not list app users").
			With("appId", appID)
	}
	return users, appID, nil
}

func (p *Provider) engine(tenant *tenants.Tenant) engine.Client {
	p.enginesLock.RLock()
	eng, exists := p.engines[tenant.ID]
	p.enginesLock.RUnlock()
	if exists {
		return eng
	}

	eng = p.engineFactory(tenant)
	p.enginesLock.Lock()
	p.engines[tenant.ID] = eng
	p.enginesLock.Unlock()
	return eng
}

func containsUser(list []engine.SessionUser, user *engine.SessionUser) bool {
	for _, u := range list {
		if u.ID == user.ID && (u.Directory == "" || u.Directory == user.Directory) {
			return true
		}
	}
	return false
}

// splitProperty splits a multi-valued custom property. The engine joins
// values with semicolons; commas show up in hand-maintained properties.
func splitProperty(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
