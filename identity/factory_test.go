package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabverse/authbridge/identity"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
	tenantrepofakes "github.com/collabverse/authbridge/tenants/repofakes"
)

type stubProvider struct {
	name string
}

func (p *stubProvider) EnsureUser(context.Context, *identity.Request) (*identity.AuthData, error) {
	return nil, nil
}

func (p *stubProvider) UserList(context.Context, string, string, string) ([]identity.Member, error) {
	return nil, nil
}

func (p *stubProvider) UserFullList(context.Context, string, string, string) ([]identity.Member, error) {
	return nil, nil
}

func (p *stubProvider) Logout(context.Context, string, string, string) error {
	return nil
}

func TestCreateDispatchesOnAuthType(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	require.NoError(t, repo.Upsert(&tenants.Tenant{ID: "onprem-1", AuthType: tenants.AuthTypeWindows}))
	require.NoError(t, repo.Upsert(&tenants.Tenant{ID: "cloud-1", AuthType: tenants.AuthTypeCloud}))

	windows := &stubProvider{name: "windows"}
	cloud := &stubProvider{name: "cloud"}

	factory := identity.NewFactory(repo)
	factory.Register(tenants.AuthTypeWindows, windows)
	factory.Register(tenants.AuthTypeCloud, cloud)

	p, err := factory.Create("onprem-1")
	require.NoError(t, err)
	require.Same(t, windows, p)

	p, err = factory.Create("cloud-1")
	require.NoError(t, err)
	require.Same(t, cloud, p)
}

func TestCreateUnknownTenantIsNotFound(t *testing.T) {
	factory := identity.NewFactory(tenantrepofakes.NewFakeTenantRepo())
	factory.Register(tenants.AuthTypeWindows, &stubProvider{})

	_, err := factory.Create("missing")
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestCreateUnregisteredAuthTypeIsInternal(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	require.NoError(t, repo.Upsert(&tenants.Tenant{ID: "cloud-1", AuthType: tenants.AuthTypeCloud}))

	factory := identity.NewFactory(repo)
	factory.Register(tenants.AuthTypeWindows, &stubProvider{})

	_, err := factory.Create("cloud-1")
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestActiveRole(t *testing.T) {
	require.Equal(t, "admin", identity.ActiveRole([]string{"admin", "user"}, ""))
	require.Equal(t, "admin", identity.ActiveRole([]string{"admin"}, "true"))
	require.Equal(t, "user", identity.ActiveRole([]string{"admin"}, "false"))
	require.Equal(t, "user", identity.ActiveRole([]string{"user"}, ""))
	require.Equal(t, "user", identity.ActiveRole(nil, ""))
}
