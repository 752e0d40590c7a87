package tenants

// AuthType selects the identity-provider variant serving a tenant.
type AuthType string

const (
	AuthTypeWindows AuthType = "Windows" // on-prem engine, cookie/session based
	AuthTypeCloud   AuthType = "Cloud"   // cloud platform, bearer JWT based
)

// IdProviderType identifies the external IdP used for the login handshake.
type IdProviderType string

const (
	IdProviderAzure     IdProviderType = "azure"
	IdProviderGoogle    IdProviderType = "google"
	IdProviderQlikOauth IdProviderType = "qlikOauth"
)

// Tenant is the top-level deployment unit, bound to one analytics backend
// and exactly one authentication type.
type Tenant struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Host        string      `json:"host" yaml:"host"`
	SessionPort int         `json:"session_port" yaml:"sessionPort"` // proxy/session query port
	AuthPort    int         `json:"auth_port" yaml:"authPort"`       // repository/auth query port
	AuthType    AuthType    `json:"auth_type" yaml:"authType"`
	Customers   []Customer  `json:"customers" yaml:"customers"`
	IdProvider  *IdProvider `json:"id_provider,omitempty" yaml:"idProvider,omitempty"`
	JWTOptions  *JWTOptions `json:"jwt_options,omitempty" yaml:"jwtOptions,omitempty"`
	APIKey      string      `json:"-" yaml:"apiKey,omitempty"` // static cloud API key - never serialize

	// SessionHeaderName is the cookie name prefix carrying the on-prem
	// session id; the viewpoint is appended as "{name}-{viewpoint}".
	SessionHeaderName string `json:"session_header_name,omitempty" yaml:"sessionHeaderName,omitempty"`
}

// Customer is a tenant-scoped grouping of users and apps. SpaceID is the
// cloud platform's identifier for the same grouping and is empty for
// on-prem tenants.
type Customer struct {
	ID      string      `json:"id" yaml:"id"`
	Name    string      `json:"name" yaml:"name"`
	Apps    []MashupApp `json:"apps" yaml:"apps"`
	SpaceID string      `json:"space_id,omitempty" yaml:"spaceId,omitempty"`
}

// MashupApp is the product's own application unit shown to end users.
type MashupApp struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	QlikApps    []QlikApp `json:"qlik_apps" yaml:"qlikApps"`
	CallbackURL string    `json:"callback_url" yaml:"callbackUrl"`
}

// QlikApp is the external analytics-engine application bound to a MashupApp.
type QlikApp struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// IdProvider holds the OAuth client registered at the external IdP.
type IdProvider struct {
	ID           int            `json:"id" yaml:"id"`
	Type         IdProviderType `json:"type" yaml:"type"`
	ClientID     string         `json:"client_id" yaml:"clientId"`
	ClientSecret string         `json:"-" yaml:"clientSecret"`
	TenantID     string         `json:"tenant_id,omitempty" yaml:"tenantId,omitempty"` // IdP-side tenant (e.g. Azure directory)
}

// JWTOptions are the per-tenant signing options for the internal session JWT.
type JWTOptions struct {
	KeyID     string `json:"key_id" yaml:"keyId"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// Customer returns the customer with the given id.
func (t *Tenant) Customer(customerID string) (*Customer, bool) {
	for i := range t.Customers {
		if t.Customers[i].ID == customerID {
			return &t.Customers[i], true
		}
	}
	return nil, false
}

// App returns the mashup app with the given name.
func (c *Customer) App(appName string) (*MashupApp, bool) {
	for i := range c.Apps {
		if c.Apps[i].Name == appName {
			return &c.Apps[i], true
		}
	}
	return nil, false
}

// QlikAppIDs returns the ids of all analytics apps bound to the mashup app.
func (a *MashupApp) QlikAppIDs() []string {
	ids := make([]string, 0, len(a.QlikApps))
	for _, qa := range a.QlikApps {
		ids = append(ids, qa.ID)
	}
	return ids
}
