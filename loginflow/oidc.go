package loginflow

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
)

// issuerURL maps an IdP type to its OIDC discovery issuer.
func issuerURL(tenant *tenants.Tenant) (string, error) {
	idp := tenant.IdProvider
	switch idp.Type {
	case tenants.IdProviderAzure:
		return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", idp.TenantID), nil
	case tenants.IdProviderGoogle:
		return "https://accounts.google.com", nil
	case tenants.IdProviderQlikOauth:
		return fmt.Sprintf("https://%s/oauth", tenant.Host), nil
	default:
		return "", apperrors.Internal("unknown id provider type").
			With("tenantId", tenant.ID).
			With("type", string(idp.Type))
	}
}

// OIDCProviderFactory is the production ProviderFactory: discover the
// external IdP's endpoints and bind them to the tenant's registered OAuth
// client. redirectURL is this service's login endpoint.
func OIDCProviderFactory(redirectURL string) ProviderFactory {
	return func(ctx context.Context, tenant *tenants.Tenant) (*ProviderConfig, error) {
		issuer, err := issuerURL(tenant)
		if err != nil {
			return nil, err
		}
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindFailedDependency, "oidc discovery failed").
				With("issuer", issuer)
		}

		idp := tenant.IdProvider
		verifier := provider.Verifier(&oidc.Config{ClientID: idp.ClientID})
		return &ProviderConfig{
			OAuth: &oauth2.Config{
				ClientID:     idp.ClientID,
				ClientSecret: idp.ClientSecret,
				Endpoint:     provider.Endpoint(),
				RedirectURL:  redirectURL,
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			},
			VerifyIDToken: func(ctx context.Context, rawIDToken, nonce string) (*Profile, error) {
				idToken, err := verifier.Verify(ctx, rawIDToken)
				if err != nil {
					return nil, err
				}
				if idToken.Nonce != nonce {
					return nil, apperrors.Unauthorized("nonce mismatch")
				}
				var claims struct {
					Name          string   `json:"name"`
					Email         string   `json:"email"`
					EmailVerified bool     `json:"email_verified"`
					Groups        []string `json:"groups"`
					Roles         []string `json:"roles"`
				}
				if err := idToken.Claims(&claims); err != nil {
					return nil, err
				}
				return &Profile{
					Subject:       idToken.Subject,
					Name:          claims.Name,
					Email:         claims.Email,
					EmailVerified: claims.EmailVerified,
					Groups:        claims.Groups,
					Roles:         claims.Roles,
				}, nil
			},
		}, nil
	}
}
