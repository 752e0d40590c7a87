package cookies

import (
	"time"

	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
)

// Cookie names and TTLs. The logout context has the shortest lifetime to
// bound the replay window.
const (
	PreAuthCookie   = "ab_preauth"
	HandshakeCookie = "ab_handshake"
	LogoutCookie    = "ab_logout"

	PreAuthTTL   = 10 * time.Minute
	HandshakeTTL = 10 * time.Minute
	LogoutTTL    = 10 * time.Second
)

// PreAuthContext is written at login start and consumed at the OAuth
// callback.
type PreAuthContext struct {
	ReturnURL   string `json:"returnUrl"`
	CallbackURL string `json:"callbackUrl"`
	TenantID    string `json:"tenantId"`
	CustomerID  string `json:"customerId"`
	AppName     string `json:"appName"`
	KeyID       string `json:"keyId,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
}

// Validate treats the decrypted payload as untrusted input: tamper evidence
// does not substitute for structural checks.
func (p *PreAuthContext) Validate() error {
	if p.TenantID == "" || p.CustomerID == "" || p.AppName == "" {
		return apperrors.Validation("pre-auth context is missing selectors")
	}
	if p.CallbackURL == "" {
		return apperrors.Validation("pre-auth context is missing callback url")
	}
	return nil
}

// Handshake is the opaque state required by the OAuth2/PKCE exchange.
type Handshake struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	Nonce    string `json:"nonce"`
}

func (h *Handshake) Validate() error {
	if h.State == "" || h.Verifier == "" {
		return apperrors.Validation("handshake state is incomplete")
	}
	return nil
}

// LogoutContext is written at logout preflight and consumed at logout.
type LogoutContext struct {
	AuthType    tenants.AuthType `json:"authType"`
	TenantID    string           `json:"tenantId"`
	CustomerID  string           `json:"customerId"`
	AppID       string           `json:"appId"`
	SessionID   string           `json:"sessionId,omitempty"`
	Viewpoint   string           `json:"viewpoint,omitempty"`
	CallbackURL string           `json:"callbackUrl"`
}

func (l *LogoutContext) Validate() error {
	if l.TenantID == "" {
		return apperrors.Validation("logout context is missing tenant")
	}
	return nil
}
