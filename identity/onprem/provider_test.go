package onprem_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/collabverse/authbridge/identity"
	"github.com/collabverse/authbridge/identity/onprem"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/qlik/engine"
	"github.com/collabverse/authbridge/tenants"
	tenantrepofakes "github.com/collabverse/authbridge/tenants/repofakes"
)

const (
	testTenantID   = "tenant-1"
	testCustomerID = "customer-1"
	testAppName    = "sales-dashboard"
	testMashupID   = "mashup-1"
	testEngineApp  = "engine-app-1"
	testViewpoint  = "hub"
	testSessionID  = "session-abc"
	testUserID     = "jdoe"
)

type fakeEngine struct {
	apps           []engine.App
	appsErr        error
	sessionUser    *engine.SessionUser
	sessionErr     error
	appUsers       []engine.SessionUser
	appUsersErr    error
	deleteAck      bool
	deleteErr      error
	deletedSession string
}

func (e *fakeEngine) AppsByTag(_ context.Context, tag string) ([]engine.App, error) {
	return e.apps, e.appsErr
}

func (e *fakeEngine) UserBySession(_ context.Context, _, _ string, _ []string) (*engine.SessionUser, error) {
	return e.sessionUser, e.sessionErr
}

func (e *fakeEngine) AppUsers(context.Context, string) ([]engine.SessionUser, error) {
	return e.appUsers, e.appUsersErr
}

func (e *fakeEngine) DeleteSession(_ context.Context, _, sessionID string) (bool, error) {
	e.deletedSession = sessionID
	return e.deleteAck, e.deleteErr
}

func newFixture(t *testing.T, eng *fakeEngine) *onprem.Provider {
	t.Helper()

	repo := tenantrepofakes.NewFakeTenantRepo()
	require.NoError(t, repo.Upsert(&tenants.Tenant{
		ID:                testTenantID,
		Host:              "qlik.internal",
		AuthType:          tenants.AuthTypeWindows,
		SessionHeaderName: "X-Qlik-Session",
		Customers: []tenants.Customer{{
			ID: testCustomerID,
			Apps: []tenants.MashupApp{{
				ID:       testMashupID,
				Name:     testAppName,
				QlikApps: []tenants.QlikApp{{ID: testEngineApp, Name: "Sales"}},
			}},
		}},
	}))

	return onprem.New(repo,
		onprem.WithEngineFactory(func(*tenants.Tenant) engine.Client { return eng }),
		onprem.WithDefaultRoles([]string{"user"}),
		onprem.WithDefaultScopes([]string{"read"}),
	)
}

func authedRequest() *identity.Request {
	return &identity.Request{
		TenantID:   testTenantID,
		CustomerID: testCustomerID,
		AppName:    testAppName,
		Viewpoint:  testViewpoint,
		Cookies:    map[string]string{"X-Qlik-Session-" + testViewpoint: testSessionID},
	}
}

func publishedApp(id string) engine.App {
	return engine.App{ID: id, Name: "Sales", PublishTime: "2024-03-01T10:00:00.000Z"}
}

func sessionUser(props map[string]string) *engine.SessionUser {
	return &engine.SessionUser{ID: testUserID, Directory: "CORP", Name: "John Doe", Properties: props}
}

func TestEnsureUserHappyPath(t *testing.T) {
	eng := &fakeEngine{
		apps: []engine.App{publishedApp(testEngineApp)},
		sessionUser: sessionUser(map[string]string{
			testEngineApp + "_role":   "admin",
			testEngineApp + "_scopes": "read;write",
			testEngineApp + "_email":  "jdoe@example.com",
		}),
		appUsers: []engine.SessionUser{{ID: testUserID, Directory: "CORP"}},
	}
	provider := newFixture(t, eng)

	authData, err := provider.EnsureUser(context.Background(), authedRequest())
	require.NoError(t, err)

	require.Equal(t, testUserID, authData.User.ID)
	require.Equal(t, "jdoe@example.com", authData.User.Email)
	require.Equal(t, testTenantID, authData.TenantID)
	require.Equal(t, testCustomerID, authData.CustomerID)
	require.Equal(t, testMashupID, authData.AppID)
	require.Equal(t, tenants.AuthTypeWindows, authData.AuthType)
	require.ElementsMatch(t, []string{"admin", "user"}, authData.Roles)
	require.ElementsMatch(t, []string{"read", "write"}, authData.Scopes)
	require.Equal(t, "admin", authData.ActiveRole)
	require.Equal(t, testViewpoint, authData.Viewpoint)
	require.Equal(t, testSessionID, authData.SessionID)
	require.Equal(t, []string{testEngineApp}, authData.QlikAppIDs)
}

func TestEnsureUserAdminDowngrade(t *testing.T) {
	eng := &fakeEngine{
		apps:        []engine.App{publishedApp(testEngineApp)},
		sessionUser: sessionUser(map[string]string{testEngineApp + "_role": "admin"}),
		appUsers:    []engine.SessionUser{{ID: testUserID, Directory: "CORP"}},
	}
	provider := newFixture(t, eng)

	req := authedRequest()
	req.AdminHint = "false"

	authData, err := provider.EnsureUser(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "user", authData.ActiveRole)
}

func TestEnsureUserZeroTaggedAppsIsInternal(t *testing.T) {
	eng := &fakeEngine{apps: nil}
	provider := newFixture(t, eng)

	_, err := provider.EnsureUser(context.Background(), authedRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestEnsureUserNeverPublishedAppsAreFiltered(t *testing.T) {
	eng := &fakeEngine{
		apps: []engine.App{
			{ID: "stale", PublishTime: engine.NeverPublished},
			publishedApp(testEngineApp),
		},
		sessionUser: sessionUser(nil),
		appUsers:    []engine.SessionUser{{ID: testUserID, Directory: "CORP"}},
	}
	provider := newFixture(t, eng)

	authData, err := provider.EnsureUser(context.Background(), authedRequest())
	require.NoError(t, err)
	require.Equal(t, testUserID, authData.User.ID)
}

func TestEnsureUserAmbiguousAppTagIsConflict(t *testing.T) {
	eng := &fakeEngine{apps: []engine.App{publishedApp("a"), publishedApp("b")}}
	provider := newFixture(t, eng)

	_, err := provider.EnsureUser(context.Background(), authedRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestEnsureUserUnknownCustomerIsNotFound(t *testing.T) {
	provider := newFixture(t, &fakeEngine{})

	req := authedRequest()
	req.CustomerID = "missing"

	_, err := provider.EnsureUser(context.Background(), req)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestEnsureUserMissingSessionCookieIsUnauthorized(t *testing.T) {
	provider := newFixture(t, &fakeEngine{})

	req := authedRequest()
	req.Cookies = nil

	_, err := provider.EnsureUser(context.Background(), req)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))
}

func TestEnsureUserNotInAppUserListIsUnauthorized(t *testing.T) {
	eng := &fakeEngine{
		apps:        []engine.App{publishedApp(testEngineApp)},
		sessionUser: sessionUser(nil),
		appUsers:    []engine.SessionUser{{ID: "someone-else", Directory: "CORP"}},
	}
	provider := newFixture(t, eng)

	_, err := provider.EnsureUser(context.Background(), authedRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))
}

func TestEnsureUserEngineFailureIsUnauthorizedWithContext(t *testing.T) {
	eng := &fakeEngine{
		apps:       []engine.App{publishedApp(testEngineApp)},
		sessionErr: errors.New("proxy timeout"),
	}
	provider := newFixture(t, eng)

	_, err := provider.EnsureUser(context.Background(), authedRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))

	// The outward message stays generic; the detail is structured context.
	var appErr *apperrors.Error
	require.True(t, apperrors.As(err, &appErr))
	require.NotContains(t, appErr.Message, "proxy timeout")
	require.Equal(t, "session lookup", apperrors.ContextOf(err)["stage"])
}

func TestUserFullListEnrichesEmails(t *testing.T) {
	eng := &fakeEngine{
		apps: []engine.App{publishedApp(testEngineApp)},
		appUsers: []engine.SessionUser{
			{ID: "a", Name: "Alice", Properties: map[string]string{testEngineApp + "_email": "alice@example.com"}},
			{ID: "b", Name: "Bob", Properties: map[string]string{testEngineApp + "_email": "bob@example.com", testEngineApp + "_role": "admin"}},
		},
	}
	provider := newFixture(t, eng)

	members, err := provider.UserFullList(context.Background(), testTenantID, testCustomerID, testAppName)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "alice@example.com", members[0].Email)
	require.Equal(t, "bob@example.com", members[1].Email)
	require.Equal(t, []string{"admin"}, members[1].Roles)
}

func TestLogoutRequiresSessionID(t *testing.T) {
	provider := newFixture(t, &fakeEngine{})

	err := provider.Logout(context.Background(), testViewpoint, "", testTenantID)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestLogoutTerminatesSession(t *testing.T) {
	eng := &fakeEngine{deleteAck: true}
	provider := newFixture(t, eng)

	err := provider.Logout(context.Background(), testViewpoint, testSessionID, testTenantID)
	require.NoError(t, err)
	require.Equal(t, testSessionID, eng.deletedSession)
}

func TestLogoutUnacknowledgedTerminationIsInternal(t *testing.T) {
	provider := newFixture(t, &fakeEngine{deleteAck: false})

	err := provider.Logout(context.Background(), testViewpoint, testSessionID, testTenantID)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestSessionAlive(t *testing.T) {
	eng := &fakeEngine{sessionUser: sessionUser(nil)}
	provider := newFixture(t, eng)

	alive, err := provider.SessionAlive(context.Background(), testTenantID, testViewpoint, testSessionID)
	require.NoError(t, err)
	require.True(t, alive)

	eng.sessionErr = errors.New("session not found")
	alive, err = provider.SessionAlive(context.Background(), testTenantID, testViewpoint, testSessionID)
	require.NoError(t, err)
	require.False(t, alive)
}
