package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/collabverse/authbridge/token"
	"github.com/collabverse/authbridge/token/keys"
)

func newIssuer(t *testing.T, now func() time.Time) *token.Issuer {
	t.Helper()

	kp, err := keys.GenerateRSAKeyPair("k1", 2048)
	require.NoError(t, err)

	issuer := token.NewIssuer(token.WithNowFunc(now))
	issuer.RegisterKeyPair(kp)
	return issuer
}

func defaultOptions() token.Options {
	return token.Options{
		Issuer:    "iss1",
		Audience:  "aud1",
		ExpiresIn: time.Hour,
		KeyID:     "k1",
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	t0 := time.Now().Truncate(time.Second)
	issuer := newIssuer(t, func() time.Time { return t0 })

	signed, err := issuer.Generate(map[string]any{
		"sub":                "u1",
		"tenantId":           "T",
		"customerId":         "C",
		"mashupAppName":      "A",
		token.ClaimTokenID:   "abc",
		token.ClaimNotBefore: t0,
	}, defaultOptions())
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, issuer.VerificationKey, jwt.WithAudience("aud1"), jwt.WithIssuer("iss1"))
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	require.Equal(t, "k1", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "abc", claims["jti"])
	require.Equal(t, float64(t0.Unix()), claims["nbf"])
	require.Equal(t, "u1", claims["sub"])
	require.Equal(t, "T", claims["tenantId"])
	require.Equal(t, "C", claims["customerId"])
	require.Equal(t, "A", claims["mashupAppName"])
	require.Equal(t, float64(t0.Add(time.Hour).Unix()), claims["exp"])

	// The meta fields are not delivered twice.
	_, hasTokenID := claims[token.ClaimTokenID]
	require.False(t, hasTokenID)
	_, hasNotBefore := claims[token.ClaimNotBefore]
	require.False(t, hasNotBefore)
}

func TestGenerateRejectsVerificationAfterExpiry(t *testing.T) {
	t0 := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	issuer := newIssuer(t, func() time.Time { return t0 })

	signed, err := issuer.Generate(map[string]any{
		"sub":                "u1",
		token.ClaimNotBefore: t0,
	}, defaultOptions())
	require.NoError(t, err)

	// t0 + 1h is in the past now.
	_, err = jwt.Parse(signed, issuer.VerificationKey)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestGenerateDefaultsTokenIDAndNotBefore(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := newIssuer(t, func() time.Time { return now })

	signed, err := issuer.Generate(map[string]any{"sub": "u1"}, defaultOptions())
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, issuer.VerificationKey)
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	require.NotEmpty(t, claims["jti"])
	require.Equal(t, float64(now.Unix()), claims["nbf"])
}

func TestGenerateUnknownKeyID(t *testing.T) {
	issuer := newIssuer(t, time.Now)

	opts := defaultOptions()
	opts.KeyID = "missing"

	_, err := issuer.Generate(map[string]any{"sub": "u1"}, opts)
	require.Error(t, err)
}

func TestVerificationKeyRejectsForeignAlgorithm(t *testing.T) {
	issuer := newIssuer(t, time.Now)

	hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	hmacToken.Header["kid"] = "k1"
	signed, err := hmacToken.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = jwt.Parse(signed, issuer.VerificationKey)
	require.Error(t, err)
}

func TestJWKSExposesRegisteredKeys(t *testing.T) {
	issuer := newIssuer(t, time.Now)

	set, err := issuer.JWKS()
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.Equal(t, "k1", set.Keys[0].Kid)
	require.Equal(t, "RSA", set.Keys[0].Kty)
}
