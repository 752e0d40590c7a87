// Package cloud implements the identity provider for tenants backed by the
// cloud analytics platform, where the caller arrives with a bearer JWT that
// the platform gateway has already verified.
package cloud

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/collabverse/authbridge/identity"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/qlik/spaces"
	"github.com/collabverse/authbridge/roles"
	"github.com/collabverse/authbridge/tenants"
)

// TokenSource supplies a client-credentials access token for an issuer.
// Satisfied by tokencache.Cache.
type TokenSource interface {
	AccessToken(ctx context.Context, issuer, clientID, clientSecret string) (string, error)
}

type Provider struct {
	registry tenants.Repo
	spaces   spaces.Client
	mapper   *roles.Mapper
	tokens   TokenSource
	log      zerolog.Logger
}

var _ identity.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

func New(registry tenants.Repo, spacesClient spaces.Client, mapper *roles.Mapper, tokens TokenSource, options ...Option) *Provider {
	p := &Provider{
		registry: registry,
		spaces:   spacesClient,
		mapper:   mapper,
		tokens:   tokens,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// bearerClaims is the identity snapshot carried by the inbound token. The
// token was verified by the platform gateway upstream; this layer only
// decodes it.
type bearerClaims struct {
	UserID string
	Email  string
	Name   string
	Status string
}

// EnsureUser establishes the caller's identity from the bearer token and
// the customer's space role assignments.
func (p *Provider) EnsureUser(ctx context.Context, req *identity.Request) (*identity.AuthData, error) {
	res, err := tenants.Resolve(p.registry, req.TenantID, req.CustomerID, req.AppName)
	if err != nil {
		return nil, err
	}

	claims, err := decodeBearer(req.Bearer)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "bearer decode")
	}

	credential, err := p.credential(ctx, res.Tenant)
	if err != nil {
		return nil, err
	}

	resolvedRoles, err := p.spaceRoles(ctx, res.Tenant, res.Customer.SpaceID, credential, claims.UserID)
	if err != nil {
		return nil, err
	}

	return &identity.AuthData{
		External: map[string]any{
			"sub":    claims.UserID,
			"email":  claims.Email,
			"name":   claims.Name,
			"status": claims.Status,
		},
		User: identity.User{
			ID:    claims.UserID,
			Name:  claims.Name,
			Email: claims.Email,
		},
		CustomerID: res.Customer.ID,
		TenantID:   res.Tenant.ID,
		AppID:      res.App.ID,
		AuthType:   tenants.AuthTypeCloud,
		Roles:      resolvedRoles,
		Scopes:     nil,
		ActiveRole: identity.ActiveRole(resolvedRoles, req.AdminHint),
		QlikAppIDs: res.App.QlikAppIDs(),
	}, nil
}

// UserList lists all space members plus the owner, who is never enumerable
// through the assignment list and must be synthesized.
func (p *Provider) UserList(ctx context.Context, tenantID, customerID, appName string) ([]identity.Member, error) {
	return p.UserFullList(ctx, tenantID, customerID, appName)
}

func (p *Provider) UserFullList(ctx context.Context, tenantID, customerID, appName string) ([]identity.Member, error) {
	res, err := tenants.Resolve(p.registry, tenantID, customerID, appName)
	if err != nil {
		return nil, err
	}

	credential, err := p.credential(ctx, res.Tenant)
	if err != nil {
		return nil, err
	}

	space, err := p.spaces.Space(ctx, res.Tenant.Host, credential, res.Customer.SpaceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not list space members").
			With("spaceId", res.Customer.SpaceID)
	}

	assignments, err := p.spaces.Members(ctx, res.Tenant.Host, credential, res.Customer.SpaceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not list space members").
			With("spaceId", res.Customer.SpaceID)
	}

	members := make([]identity.Member, 0, len(assignments)+1)
	ownerListed := false
	for _, m := range assignments {
		if m.UserID == space.OwnerID {
			ownerListed = true
		}
		members = append(members, identity.Member{
			ID:    m.UserID,
			Name:  m.Name,
			Email: m.Email,
			Roles: p.mapper.Map(m.Roles),
		})
	}
	if !ownerListed {
		members = append(members, identity.Member{
			ID:    space.OwnerID,
			Roles: p.mapper.Unmapped(),
		})
	}
	return members, nil
}

// Logout is not supported here: cloud logout is redirect-based and carries
// no server-side session to invalidate.
func (p *Provider) Logout(context.Context, string, string, string) error {
	return apperrors.Validation("logout is not supported for cloud tenants")
}

// spaceRoles resolves the caller's role within the space. The owner is
// assigned the full unmapped role set directly, without a membership call.
func (p *Provider) spaceRoles(ctx context.Context, tenant *tenants.Tenant, spaceID, credential, userID string) ([]string, error) {
	space, err := p.spaces.Space(ctx, tenant.Host, credential, spaceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "space lookup").
			With("spaceId", spaceID)
	}

	if space.OwnerID == userID {
		return p.mapper.Unmapped(), nil
	}

	member, err := p.spaces.Member(ctx, tenant.Host, credential, spaceID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "membership lookup").
			With("spaceId", spaceID)
	}
	if member.Status != spaces.StatusActive {
		return nil, apperrors.Validation("account is not active").
			With("status", member.Status)
	}

	return p.mapper.Map(member.Roles), nil
}

// credential prefers the tenant's static API key and falls back to a cached
// client-credentials grant against the tenant's own host as issuer.
func (p *Provider) credential(ctx context.Context, tenant *tenants.Tenant) (string, error) {
	if tenant.APIKey != "" {
		return tenant.APIKey, nil
	}
	if tenant.IdProvider == nil {
		return "", apperrors.Internal("tenant has neither api key nor id provider").
			With("tenantId", tenant.ID)
	}

	token, err := p.tokens.AccessToken(ctx, "https://"+tenant.Host, tenant.IdProvider.ClientID, tenant.IdProvider.ClientSecret)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindUnauthorized, "could not establish identity").
			With("stage", "credential grant").
			With("tenantId", tenant.ID)
	}
	return token, nil
}

func decodeBearer(raw string) (*bearerClaims, error) {
	if raw == "" {
		return nil, apperrors.Unauthorized("missing bearer token")
	}

	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.Unauthorized("malformed bearer claims")
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	status, _ := claims["status"].(string)
	if sub == "" {
		return nil, apperrors.Unauthorized("bearer token missing subject")
	}

	return &bearerClaims{UserID: sub, Email: email, Name: name, Status: status}, nil
}
