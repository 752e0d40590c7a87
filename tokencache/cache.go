// Package tokencache caches client-credentials access tokens per external
// issuer. Entries are reused until expiry and replaced wholesale on refresh;
// concurrent refreshes for the same issuer are tolerated as a harmless
// duplicate grant, never a correctness issue.
package tokencache

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	apperrors "github.com/collabverse/authbridge/internal/errors"
)

const DefaultMaxRetries = 3

// Token is a complete, self-consistent token set for one issuer.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// GrantFunc performs discovery plus a client-credentials grant against the
// issuer. Injectable for tests.
type GrantFunc func(ctx context.Context, issuer, clientID, clientSecret string) (*Token, error)

type Cache struct {
	store      *gocache.Cache
	grant      GrantFunc
	maxRetries int
	nowFunc    func() time.Time
	log        zerolog.Logger
}

type Option func(*Cache)

func WithGrantFunc(grant GrantFunc) Option {
	return func(c *Cache) { c.grant = grant }
}

func WithMaxRetries(maxRetries int) Option {
	return func(c *Cache) { c.maxRetries = maxRetries }
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// DefaultGrant is the production grant: OIDC discovery followed by a
// client-credentials exchange. Exposed so callers can wrap it.
var DefaultGrant GrantFunc = oidcClientCredentialsGrant

func New(options ...Option) *Cache {
	c := &Cache{
		store:      gocache.New(gocache.NoExpiration, 10*time.Minute),
		grant:      oidcClientCredentialsGrant,
		maxRetries: DefaultMaxRetries,
		nowFunc:    time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// AccessToken returns a valid access token for the issuer, reusing the
// cached entry when its expiry is still in the future. A refresh retries up
// to maxRetries attempts (counting the first); on exhaustion the cache is
// left untouched and a dependency failure is returned.
func (c *Cache) AccessToken(ctx context.Context, issuer, clientID, clientSecret string) (string, error) {
	if v, ok := c.store.Get(issuer); ok {
		if tok, ok := v.(Token); ok && tok.Expiry.After(c.nowFunc()) {
			return tok.AccessToken, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		tok, err := c.grant(ctx, issuer, clientID, clientSecret)
		if err != nil {
			lastErr = err
			c.log.Warn().
				Err(err).
				Str("issuer", issuer).
				Int("attempt", attempt).
				Int("maxRetries", c.maxRetries).
				Msg("access token grant failed")
			continue
		}

		ttl := tok.Expiry.Sub(c.nowFunc())
		c.store.Set(issuer, *tok, ttl)
		return tok.AccessToken, nil
	}

	return "", apperrors.Wrap(lastErr, apperrors.KindFailedDependency, "token grant exhausted after %d attempts", c.maxRetries).
		With("issuer", issuer)
}

func oidcClientCredentialsGrant(ctx context.Context, issuer, clientID, clientSecret string) (*Token, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, apperrors.Wrapf(err, "tokencache discovery %q", issuer)
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, "tokencache grant %q", issuer)
	}

	return &Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}
