// Package identity defines the normalized per-request identity record and
// the capability contract shared by the on-prem and cloud providers.
package identity

import (
	"context"
	"net/http"

	"github.com/collabverse/authbridge/roles"
	"github.com/collabverse/authbridge/tenants"
)

// Request headers every authenticated call must carry, plus the optional
// admin-downgrade flag and viewpoint selector.
const (
	HeaderTenantID   = "X-Tenant-Id"
	HeaderCustomerID = "X-Customer-Id"
	HeaderAppName    = "X-App-Name"
	HeaderAppAdmin   = "X-App-Admin"
	HeaderViewpoint  = "X-Viewpoint"
)

// User is the normalized user identity inside AuthData.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Member is one entry of an app's or space's authorized-user list.
type Member struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AuthData is the per-request identity record produced by a provider.
// It is created fresh for every authenticated request, never persisted, and
// treated as immutable by downstream consumers.
type AuthData struct {
	External   map[string]any   `json:"external,omitempty"` // raw external user snapshot
	User       User             `json:"user"`
	CustomerID string           `json:"customerId"`
	TenantID   string           `json:"tenantId"`
	AppID      string           `json:"appId"`
	AuthType   tenants.AuthType `json:"authType"`
	Roles      []string         `json:"roles"`
	Scopes     []string         `json:"scopes"`
	ActiveRole string           `json:"activeRole"`
	Viewpoint  string           `json:"viewpoint,omitempty"` // on-prem only
	SessionID  string           `json:"-"`                   // on-prem session id - never serialize
	QlikAppIDs []string         `json:"qlikAppIds"`
}

// Request is a transport-independent snapshot of the pieces of an inbound
// HTTP request a provider needs. Keeping providers off *http.Request makes
// them testable without a server.
type Request struct {
	TenantID   string
	CustomerID string
	AppName    string
	Viewpoint  string
	AdminHint  string // raw value of the X-App-Admin header
	Bearer     string // raw bearer token, cloud tenants only
	Cookies    map[string]string
}

// FromHTTP captures the provider-relevant parts of an inbound request.
func FromHTTP(r *http.Request) *Request {
	req := &Request{
		TenantID:   r.Header.Get(HeaderTenantID),
		CustomerID: r.Header.Get(HeaderCustomerID),
		AppName:    r.Header.Get(HeaderAppName),
		Viewpoint:  r.Header.Get(HeaderViewpoint),
		AdminHint:  r.Header.Get(HeaderAppAdmin),
		Bearer:     BearerToken(r),
		Cookies:    make(map[string]string),
	}
	for _, c := range r.Cookies() {
		req.Cookies[c.Name] = c.Value
	}
	return req
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// Provider is the identity-provider capability contract. Exactly one
// implementation is registered per tenant authentication type.
type Provider interface {
	// EnsureUser establishes the caller's identity and returns the
	// normalized AuthData for this request.
	EnsureUser(ctx context.Context, req *Request) (*AuthData, error)

	// UserList returns the authorized users of the resolved app or space.
	UserList(ctx context.Context, tenantID, customerID, appName string) ([]Member, error)

	// UserFullList is UserList enriched with per-user detail (emails,
	// mapped roles).
	UserFullList(ctx context.Context, tenantID, customerID, appName string) ([]Member, error)

	// Logout invalidates the external session where the backend supports a
	// server-side invalidation.
	Logout(ctx context.Context, viewpoint, sessionID, tenantID string) error
}

// ActiveRole derives the role applied to the current session: admin when the
// resolved roles include admin and the client has not downgraded itself via
// the admin hint header ("false" literally).
func ActiveRole(resolved []string, adminHint string) string {
	for _, r := range resolved {
		if r == roles.RoleAdmin && adminHint != "false" {
			return roles.RoleAdmin
		}
	}
	return roles.RoleUser
}
