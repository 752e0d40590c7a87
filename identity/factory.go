package identity

import (
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
)

// Factory resolves the provider variant for a tenant. This is the single
// polymorphic dispatch point: no other component branches on authentication
// type except to store or forward it.
type Factory struct {
	repo      tenants.Repo
	providers map[tenants.AuthType]Provider
}

func NewFactory(repo tenants.Repo) *Factory {
	return &Factory{
		repo:      repo,
		providers: make(map[tenants.AuthType]Provider),
	}
}

// Register binds a provider implementation to an authentication type.
func (f *Factory) Register(authType tenants.AuthType, provider Provider) {
	f.providers[authType] = provider
}

// Create returns the provider registered for the tenant's authentication
// type. An unknown tenant is not-found; a tenant configured with an
// unregistered type is a broken deployment invariant.
func (f *Factory) Create(tenantID string) (Provider, error) {
	tenant, err := f.repo.Get(tenantID)
	if err != nil {
		return nil, apperrors.NotFound("unknown tenant").With("tenantId", tenantID)
	}

	provider, ok := f.providers[tenant.AuthType]
	if !ok {
		return nil, apperrors.Internal("no identity provider registered for auth type %q", tenant.AuthType).
			With("tenantId", tenantID)
	}
	return provider, nil
}
