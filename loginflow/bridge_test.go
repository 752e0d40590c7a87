package loginflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/collabverse/authbridge/cookies"
	apperrors "github.com/collabverse/authbridge/internal/errors"
	"github.com/collabverse/authbridge/tenants"
	"github.com/collabverse/authbridge/token"
)

type fakeIssuer struct {
	claims map[string]any
	opts   token.Options
	minted string
	err    error
}

func (f *fakeIssuer) Generate(claims map[string]any, opts token.Options) (string, error) {
	f.claims = claims
	f.opts = opts
	return f.minted, f.err
}

func testRegistry(t *testing.T) tenants.Repo {
	t.Helper()
	repo := tenants.NewMemoryRepo()
	require.NoError(t, repo.Upsert(&tenants.Tenant{
		ID:   "acme",
		Host: "acme.example.com",
		IdProvider: &tenants.IdProvider{
			ID:       1,
			Type:     tenants.IdProviderAzure,
			ClientID: "client-id",
			TenantID: "azure-tenant",
		},
		JWTOptions: &tenants.JWTOptions{KeyID: "tenant-key", Algorithm: "RS256"},
		Customers: []tenants.Customer{{
			ID: "cust1",
			Apps: []tenants.MashupApp{{
				ID:          "app1",
				Name:        "dashboard",
				CallbackURL: "https://mashup.example.com/callback",
			}},
		}},
	}))
	return repo
}

func staticFactory(cfg *ProviderConfig) ProviderFactory {
	return func(ctx context.Context, tenant *tenants.Tenant) (*ProviderConfig, error) {
		return cfg, nil
	}
}

func testCodec(t *testing.T) *cookies.Codec {
	t.Helper()
	codec, err := cookies.NewCodec("test-secret")
	require.NoError(t, err)
	return codec
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  State
	}{
		{"empty query starts", "", StateStart},
		{"selectors only starts", "tenantId=acme&appName=dashboard", StateStart},
		{"code is a callback", "code=abc&state=xyz", StateCallback},
		{"error wins over code", "code=abc&error=access_denied", StateFailure},
		{"error alone fails", "error=access_denied&error_description=nope", StateFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			require.Equal(t, tt.want, Classify(q))
		})
	}
}

func TestStartRedirectsWithPKCE(t *testing.T) {
	codec := testCodec(t)
	factory := staticFactory(&ProviderConfig{
		OAuth: &oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"},
		},
	})
	bridge := New(testRegistry(t), codec, &fakeIssuer{}, token.Options{}, WithProviderFactory(factory))

	r := httptest.NewRequest(http.MethodGet, "/auth/login?tenantId=acme&customerId=cust1&appName=dashboard&returnUrl=/home", nil)
	w := httptest.NewRecorder()
	require.NoError(t, bridge.Start(w, r))

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", location.Host)
	q := location.Query()
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.NotEmpty(t, q.Get("nonce"))

	jar := cookieMap(w.Result().Cookies())
	var preAuth cookies.PreAuthContext
	require.NoError(t, codec.Decode(jar[cookies.PreAuthCookie], cookies.PreAuthTTL, &preAuth))
	require.Equal(t, "acme", preAuth.TenantID)
	require.Equal(t, "cust1", preAuth.CustomerID)
	require.Equal(t, "dashboard", preAuth.AppName)
	require.Equal(t, "https://mashup.example.com/callback", preAuth.CallbackURL)
	require.Equal(t, "/home", preAuth.ReturnURL)
	require.Equal(t, "tenant-key", preAuth.KeyID)

	var handshake cookies.Handshake
	require.NoError(t, codec.Decode(jar[cookies.HandshakeCookie], cookies.HandshakeTTL, &handshake))
	require.Equal(t, handshake.State, q.Get("state"))
	require.Equal(t, handshake.Nonce, q.Get("nonce"))
	require.NotEmpty(t, handshake.Verifier)
}

func TestStartUnknownTenantIsFatal(t *testing.T) {
	bridge := New(testRegistry(t), testCodec(t), &fakeIssuer{}, token.Options{},
		WithProviderFactory(staticFactory(&ProviderConfig{OAuth: &oauth2.Config{}})))

	r := httptest.NewRequest(http.MethodGet, "/auth/login?tenantId=ghost&customerId=cust1&appName=dashboard", nil)
	err := bridge.Start(httptest.NewRecorder(), r)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestCallbackMintsAndRedirects(t *testing.T) {
	tokenEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.Form.Get("code"))
		require.NotEmpty(t, r.Form.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "external-access-token",
			"token_type":   "Bearer",
			"id_token":     "raw-id-token",
		})
	}))
	defer tokenEndpoint.Close()

	var verifiedNonce string
	factory := staticFactory(&ProviderConfig{
		OAuth: &oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://idp.example.com/authorize",
				TokenURL: tokenEndpoint.URL,
			},
		},
		VerifyIDToken: func(ctx context.Context, rawIDToken, nonce string) (*Profile, error) {
			require.Equal(t, "raw-id-token", rawIDToken)
			verifiedNonce = nonce
			return &Profile{
				Subject:       "user-42",
				Name:          "Jane Analyst",
				Email:         "jane@acme.example.com",
				EmailVerified: true,
				Groups:        []string{"analysts"},
			}, nil
		},
	})

	codec := testCodec(t)
	issuer := &fakeIssuer{minted: "internal-token"}
	bridge := New(testRegistry(t), codec, issuer,
		token.Options{Issuer: "authbridge", Audience: "mashups"},
		WithProviderFactory(factory), WithEchoAccessToken(true))

	start := httptest.NewRequest(http.MethodGet, "/auth/login?tenantId=acme&customerId=cust1&appName=dashboard&returnUrl=/home", nil)
	startRec := httptest.NewRecorder()
	require.NoError(t, bridge.Start(startRec, start))

	jar := cookieMap(startRec.Result().Cookies())
	var handshake cookies.Handshake
	require.NoError(t, codec.Decode(jar[cookies.HandshakeCookie], cookies.HandshakeTTL, &handshake))

	callback := httptest.NewRequest(http.MethodGet, "/auth/login?code=the-code&state="+url.QueryEscape(handshake.State), nil)
	for _, c := range startRec.Result().Cookies() {
		callback.AddCookie(c)
	}
	callbackRec := httptest.NewRecorder()
	require.NoError(t, bridge.Callback(callbackRec, callback))

	require.Equal(t, handshake.Nonce, verifiedNonce)

	require.Equal(t, http.StatusFound, callbackRec.Code)
	location, err := url.Parse(callbackRec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "mashup.example.com", location.Host)
	require.Equal(t, "/callback", location.Path)
	require.Equal(t, "internal-token", location.Query().Get("token"))
	require.Equal(t, "/home", location.Query().Get("returnUrl"))

	require.Equal(t, "user-42", issuer.claims["sub"])
	require.Equal(t, "user", issuer.claims["subType"])
	require.Equal(t, "active", issuer.claims["status"])
	require.Equal(t, "jane@acme.example.com", issuer.claims["email"])
	require.Equal(t, true, issuer.claims["email_verified"])
	require.Equal(t, []string{"analysts"}, issuer.claims["groups"])
	require.Equal(t, "acme", issuer.claims["tenantId"])
	require.Equal(t, "cust1", issuer.claims["customerId"])
	require.Equal(t, "dashboard", issuer.claims["mashupAppName"])
	require.Equal(t, "external-access-token", issuer.claims["access_token"])
	require.Equal(t, "tenant-key", issuer.opts.KeyID)
	require.Equal(t, "RS256", issuer.opts.Algorithm)
	require.Equal(t, "authbridge", issuer.opts.Issuer)

	for _, c := range callbackRec.Result().Cookies() {
		if c.Name == cookies.PreAuthCookie || c.Name == cookies.HandshakeCookie {
			require.Less(t, c.MaxAge, 0, "handshake cookies must be cleared")
		}
	}
}

func TestCallbackAccessTokenNotEchoedByDefault(t *testing.T) {
	tokenEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "external-access-token",
			"token_type":   "Bearer",
			"id_token":     "raw-id-token",
		})
	}))
	defer tokenEndpoint.Close()

	factory := staticFactory(&ProviderConfig{
		OAuth: &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: tokenEndpoint.URL}},
		VerifyIDToken: func(ctx context.Context, rawIDToken, nonce string) (*Profile, error) {
			return &Profile{Subject: "user-42"}, nil
		},
	})

	codec := testCodec(t)
	issuer := &fakeIssuer{minted: "internal-token"}
	bridge := New(testRegistry(t), codec, issuer, token.Options{}, WithProviderFactory(factory))

	startRec := httptest.NewRecorder()
	require.NoError(t, bridge.Start(startRec,
		httptest.NewRequest(http.MethodGet, "/auth/login?tenantId=acme&customerId=cust1&appName=dashboard", nil)))

	jar := cookieMap(startRec.Result().Cookies())
	var handshake cookies.Handshake
	require.NoError(t, codec.Decode(jar[cookies.HandshakeCookie], cookies.HandshakeTTL, &handshake))

	callback := httptest.NewRequest(http.MethodGet, "/auth/login?code=c&state="+url.QueryEscape(handshake.State), nil)
	for _, c := range startRec.Result().Cookies() {
		callback.AddCookie(c)
	}
	require.NoError(t, bridge.Callback(httptest.NewRecorder(), callback))

	_, echoed := issuer.claims["access_token"]
	require.False(t, echoed)
}

func TestCallbackStateMismatch(t *testing.T) {
	codec := testCodec(t)
	bridge := New(testRegistry(t), codec, &fakeIssuer{}, token.Options{},
		WithProviderFactory(staticFactory(&ProviderConfig{OAuth: &oauth2.Config{}})))

	startRec := httptest.NewRecorder()
	require.NoError(t, bridge.Start(startRec,
		httptest.NewRequest(http.MethodGet, "/auth/login?tenantId=acme&customerId=cust1&appName=dashboard", nil)))

	callback := httptest.NewRequest(http.MethodGet, "/auth/login?code=c&state=forged", nil)
	for _, c := range startRec.Result().Cookies() {
		callback.AddCookie(c)
	}
	err := bridge.Callback(httptest.NewRecorder(), callback)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))
}

func TestCallbackWithoutContextIsFatal(t *testing.T) {
	bridge := New(testRegistry(t), testCodec(t), &fakeIssuer{}, token.Options{},
		WithProviderFactory(staticFactory(&ProviderConfig{OAuth: &oauth2.Config{}})))

	err := bridge.Callback(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/auth/login?code=c&state=s", nil))
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestFailCarriesProviderDiagnostics(t *testing.T) {
	bridge := New(testRegistry(t), testCodec(t), &fakeIssuer{}, token.Options{})

	q := url.Values{}
	q.Set("error", "access_denied")
	q.Set("error_description", "user cancelled")
	err := bridge.Fail(q)
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))
	ctx := apperrors.ContextOf(err)
	require.Equal(t, "access_denied", ctx["error"])
	require.Equal(t, "user cancelled", ctx["error_description"])
}

func cookieMap(cs []*http.Cookie) map[string]string {
	out := map[string]string{}
	for _, c := range cs {
		out[c.Name] = c.Value
	}
	return out
}
