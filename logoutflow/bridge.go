// Package logoutflow runs the two-phase logout: an authenticated preflight
// captures the session's logout context in a short-lived cookie, and the
// browser-initiated logout consumes it. The second leg arrives without
// credentials, so everything it needs must already be in the cookie.
package logoutflow

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/collabverse/authbridge/cookies"
	"github.com/collabverse/authbridge/identity"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
)

type Bridge struct {
	registry  tenants.Repo
	codec     *cookies.Codec
	providers *identity.Factory
	log       zerolog.Logger
}

type Option func(*Bridge)

func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

func New(registry tenants.Repo, codec *cookies.Codec, providers *identity.Factory, options ...Option) *Bridge {
	b := &Bridge{
		registry:  registry,
		codec:     codec,
		providers: providers,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Prepare captures the authenticated session's logout context. The caller
// is already authenticated at this point; the cookie bridges the gap to
// the unauthenticated browser navigation that follows.
func (b *Bridge) Prepare(w http.ResponseWriter, r *http.Request, auth *identity.AuthData) error {
	tenant, err := b.registry.Get(auth.TenantID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "logout target is not configured")
	}
	app, err := appByID(tenant, auth.CustomerID, auth.AppID)
	if err != nil {
		return err
	}

	ctx := cookies.LogoutContext{
		AuthType:    tenant.AuthType,
		TenantID:    tenant.ID,
		CustomerID:  auth.CustomerID,
		AppID:       app.ID,
		SessionID:   auth.SessionID,
		Viewpoint:   auth.Viewpoint,
		CallbackURL: app.CallbackURL,
	}
	value, err := b.codec.Encode(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "cookie encode failed")
	}
	cookies.Set(w, r, cookies.LogoutCookie, value, cookies.LogoutTTL)
	return nil
}

// Logout consumes the preflight cookie and dispatches on the tenant's
// authentication type. The cookie is cleared unconditionally: a logout
// attempt is never replayed.
func (b *Bridge) Logout(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(cookies.LogoutCookie)
	if err != nil {
		return apperrors.Unauthorized("logout was not prepared")
	}

	var ctx cookies.LogoutContext
	decodeErr := b.codec.Decode(cookie.Value, cookies.LogoutTTL, &ctx)
	cookies.Clear(w, cookies.LogoutCookie)
	if decodeErr != nil {
		return apperrors.Wrap(decodeErr, apperrors.KindUnauthorized, "logout was not prepared")
	}
	if err := ctx.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.KindUnauthorized, "logout was not prepared")
	}
	if ctx.AuthType == "" {
		return apperrors.Unauthorized("logout was not prepared")
	}

	switch ctx.AuthType {
	case tenants.AuthTypeWindows:
		if err := b.onPremLogout(r, &ctx); err != nil {
			b.log.Warn().Err(err).Str("tenantId", ctx.TenantID).Msg("session invalidation failed")
			redirectError(w, r, ctx.CallbackURL, err)
			return nil
		}
		redirect(w, r, ctx.CallbackURL, url.Values{"logout": {"true"}})
		return nil

	case tenants.AuthTypeCloud:
		tenant, err := b.registry.Get(ctx.TenantID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "logout context references unknown tenant")
		}
		http.Redirect(w, r, fmt.Sprintf("https://%s/logout", tenant.Host), http.StatusFound)
		return nil

	default:
		return apperrors.Internal("unknown auth type in logout context").
			With("authType", string(ctx.AuthType)).
			With("tenantId", ctx.TenantID)
	}
}

func appByID(tenant *tenants.Tenant, customerID, appID string) (*tenants.MashupApp, error) {
	customer, ok := tenant.Customer(customerID)
	if !ok {
		return nil, apperrors.Internal("logout target is not configured").
			With("tenantId", tenant.ID).
			With("customerId", customerID)
	}
	for i := range customer.Apps {
		if customer.Apps[i].ID == appID {
			return &customer.Apps[i], nil
		}
	}
	return nil, apperrors.Internal("logout target is not configured").
		With("tenantId", tenant.ID).
		With("customerId", customerID).
		With("appId", appID)
}

func (b *Bridge) onPremLogout(r *http.Request, ctx *cookies.LogoutContext) error {
	provider, err := b.providers.Create(ctx.TenantID)
	if err != nil {
		return err
	}
	return provider.Logout(r.Context(), ctx.Viewpoint, ctx.SessionID, ctx.TenantID)
}

func redirect(w http.ResponseWriter, r *http.Request, callbackURL string, params url.Values) {
	target, err := url.Parse(callbackURL)
	if err != nil {
		http.Redirect(w, r, callbackURL, http.StatusFound)
		return
	}
	q := target.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// redirectError completes the browser navigation even when the backend
// invalidation failed: the user still lands on the mashup, which decides
// how to present the failure.
func redirectError(w http.ResponseWriter, r *http.Request, callbackURL string, err error) {
	redirect(w, r, callbackURL, url.Values{"error": {err.Error()}})
}
