// Package loginflow drives the stateless OAuth2/PKCE login handshake. The
// flow is modeled as an explicit state machine keyed on the callback query:
// no code and no error means a fresh start, a code means the provider
// called back, an error means the provider refused. All transient state
// travels in encrypted cookies.
package loginflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/collabverse/authbridge/cookies"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
	"github.com/collabverse/authbridge/token"
)

// State of the login handshake, derived from the request query.
type State int

const (
	StateStart State = iota
	StateCallback
	StateFailure
)

// Classify is a pure function of the query parameters.
func Classify(q url.Values) State {
	if q.Get("error") != "" {
		return StateFailure
	}
	if q.Get("code") != "" {
		return StateCallback
	}
	return StateStart
}

// Profile is the normalized external identity produced by the provider's
// ID token.
type Profile struct {
	Subject       string
	Name          string
	Email         string
	EmailVerified bool
	Groups        []string
	Roles         []string
	AccessToken   string
}

// ProviderConfig is the per-tenant external IdP configuration: the OAuth2
// client plus the ID-token verification step.
type ProviderConfig struct {
	OAuth         *oauth2.Config
	VerifyIDToken func(ctx context.Context, rawIDToken, nonce string) (*Profile, error)
}

// ProviderFactory builds the external IdP configuration for a tenant.
// Injectable for tests.
type ProviderFactory func(ctx context.Context, tenant *tenants.Tenant) (*ProviderConfig, error)

// Issuer mints the internal session token. Satisfied by token.Issuer.
type Issuer interface {
	Generate(claims map[string]any, opts token.Options) (string, error)
}

type Bridge struct {
	registry        tenants.Repo
	codec           *cookies.Codec
	issuer          Issuer
	tokenOptions    token.Options // env-level issuer, audience, expiry
	echoAccessToken bool
	providers       ProviderFactory
	log             zerolog.Logger
}

type Option func(*Bridge)

func WithProviderFactory(factory ProviderFactory) Option {
	return func(b *Bridge) { b.providers = factory }
}

func WithEchoAccessToken(echo bool) Option {
	return func(b *Bridge) { b.echoAccessToken = echo }
}

func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

func New(registry tenants.Repo, codec *cookies.Codec, issuer Issuer, tokenOptions token.Options, options ...Option) *Bridge {
	b := &Bridge{
		registry:     registry,
		codec:        codec,
		issuer:       issuer,
		tokenOptions: tokenOptions,
		log:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}
	if b.providers == nil {
		b.providers = OIDCProviderFactory("")
	}
	return b
}

// Start begins the handshake: resolve the login target, capture the
// pre-auth context, and hand control to the external authorization
// endpoint. A missing tenant, customer, or app is a configuration error,
// never retried.
func (b *Bridge) Start(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	res, err := tenants.Resolve(b.registry, q.Get("tenantId"), q.Get("customerId"), q.Get("appName"))
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login target is not configured")
	}
	if res.Tenant.IdProvider == nil {
		return apperrors.Internal("tenant has no id provider").With("tenantId", res.Tenant.ID)
	}

	cfg, err := b.providers(r.Context(), res.Tenant)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "id provider configuration failed").
			With("tenantId", res.Tenant.ID)
	}

	preAuth := cookies.PreAuthContext{
		ReturnURL:   q.Get("returnUrl"),
		CallbackURL: res.App.CallbackURL,
		TenantID:    res.Tenant.ID,
		CustomerID:  res.Customer.ID,
		AppName:     res.App.Name,
	}
	if res.Tenant.JWTOptions != nil {
		preAuth.KeyID = res.Tenant.JWTOptions.KeyID
		preAuth.Algorithm = res.Tenant.JWTOptions.Algorithm
	}
	if err := b.setCookie(w, r, cookies.PreAuthCookie, preAuth, cookies.PreAuthTTL); err != nil {
		return err
	}

	handshake := cookies.Handshake{
		State:    randomToken(),
		Verifier: oauth2.GenerateVerifier(),
		Nonce:    randomToken(),
	}
	if err := b.setCookie(w, r, cookies.HandshakeCookie, handshake, cookies.HandshakeTTL); err != nil {
		return err
	}

	authURL := cfg.OAuth.AuthCodeURL(handshake.State,
		oauth2.S256ChallengeOption(handshake.Verifier),
		oidc.Nonce(handshake.Nonce),
	)
	b.log.Debug().Str("tenantId", res.Tenant.ID).Msg("redirecting to external idp")
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// Callback completes the handshake: the tenant is re-resolved strictly from
// the pre-auth cookie, the code is exchanged with the stored verifier, and
// the minted internal token is delivered to the stored callback URL.
func (b *Bridge) Callback(w http.ResponseWriter, r *http.Request) error {
	var preAuth cookies.PreAuthContext
	if err := b.readCookie(r, cookies.PreAuthCookie, cookies.PreAuthTTL, &preAuth); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login context is missing")
	}
	if err := preAuth.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login context is missing")
	}

	var handshake cookies.Handshake
	if err := b.readCookie(r, cookies.HandshakeCookie, cookies.HandshakeTTL, &handshake); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login context is missing")
	}
	if err := handshake.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login context is missing")
	}

	tenant, err := b.registry.Get(preAuth.TenantID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "login context references unknown tenant")
	}

	q := r.URL.Query()
	if q.Get("state") != handshake.State {
		return apperrors.Unauthorized("authorization state mismatch")
	}

	cfg, err := b.providers(r.Context(), tenant)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "id provider configuration failed").
			With("tenantId", tenant.ID)
	}

	oauthToken, err := cfg.OAuth.Exchange(r.Context(), q.Get("code"), oauth2.VerifierOption(handshake.Verifier))
	if err != nil {
		return exchangeError(err)
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok {
		return apperrors.Unauthorized("authentication failed").With("reason", "no id token in response")
	}

	profile, err := cfg.VerifyIDToken(r.Context(), rawIDToken, handshake.Nonce)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnauthorized, "authentication failed").
			With("stage", "id token verification")
	}
	profile.AccessToken = oauthToken.AccessToken

	minted, err := b.mint(profile, &preAuth)
	if err != nil {
		return err
	}

	cookies.Clear(w, cookies.PreAuthCookie)
	cookies.Clear(w, cookies.HandshakeCookie)

	redirect, err := url.Parse(preAuth.CallbackURL)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "invalid callback url")
	}
	rq := redirect.Query()
	rq.Set("returnUrl", preAuth.ReturnURL)
	rq.Set("token", minted)
	redirect.RawQuery = rq.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
	return nil
}

// Fail surfaces a provider-side refusal as a fatal authentication error
// with the query parameters attached as diagnostic context. No redirect
// loop is attempted.
func (b *Bridge) Fail(q url.Values) error {
	err := apperrors.Unauthorized("authorization was refused")
	for key, values := range q {
		if len(values) > 0 {
			err = err.With(key, values[0])
		}
	}
	return err
}

// mint is the ISSUED transition: external profile plus stored signing
// options become the internal session token.
func (b *Bridge) mint(profile *Profile, preAuth *cookies.PreAuthContext) (string, error) {
	claims := map[string]any{
		"sub":            profile.Subject,
		"subType":        "user",
		"status":         "active",
		"name":           profile.Name,
		"email":          profile.Email,
		"userId":         profile.Subject,
		"email_verified": profile.EmailVerified,
		"groups":         profile.Groups,
		"tenantId":       preAuth.TenantID,
		"customerId":     preAuth.CustomerID,
		"mashupAppName":  preAuth.AppName,
	}
	if b.echoAccessToken {
		claims["access_token"] = profile.AccessToken
	}

	opts := b.tokenOptions
	if preAuth.KeyID != "" {
		opts.KeyID = preAuth.KeyID
	}
	if preAuth.Algorithm != "" {
		opts.Algorithm = preAuth.Algorithm
	}

	minted, err := b.issuer.Generate(claims, opts)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInternal, "session token mint failed")
	}
	return minted, nil
}

func (b *Bridge) setCookie(w http.ResponseWriter, r *http.Request, name string, payload any, ttl time.Duration) error {
	value, err := b.codec.Encode(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "cookie encode failed")
	}
	cookies.Set(w, r, name, value, ttl)
	return nil
}

func (b *Bridge) readCookie(r *http.Request, name string, ttl time.Duration, payload any) error {
	cookie, err := r.Cookie(name)
	if err != nil {
		return apperrors.Unauthorized("cookie is missing").With("cookie", name)
	}
	return b.codec.Decode(cookie.Value, ttl, payload)
}

// exchangeError attaches the provider's error body, if any, as diagnostic
// context. The oauth2 package keeps the raw response bytes around.
func exchangeError(err error) error {
	wrapped := apperrors.Wrap(err, apperrors.KindUnauthorized, "authentication failed").
		With("stage", "code exchange")
	var retrieve *oauth2.RetrieveError
	if apperrors.As(err, &retrieve) && len(retrieve.Body) > 0 {
		wrapped = wrapped.With("providerResponse", string(retrieve.Body))
	}
	return wrapped
}

func randomToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
