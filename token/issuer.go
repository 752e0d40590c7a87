// Package token mints the service's own signed session JWT carrying the
// normalized identity claims.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/collabverse/authbridge/token/keys"
)

// Meta claim keys. Both are extracted from the business payload before the
// registered claims are merged in, so neither is delivered twice.
const (
	ClaimTokenID   = "jwtId"
	ClaimNotBefore = "notBefore"
)

// Options carries the per-mint signing options: registered claims plus the
// key selection.
type Options struct {
	Issuer    string
	Audience  string
	ExpiresIn time.Duration
	KeyID     string
	Algorithm string
}

// Issuer signs session tokens with one of its registered key pairs.
type Issuer struct {
	keyPairs map[string]*keys.KeyPair
	nowFunc  func() time.Time
}

type IssuerOption func(*Issuer)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.nowFunc = now }
}

func NewIssuer(options ...IssuerOption) *Issuer {
	i := &Issuer{
		keyPairs: make(map[string]*keys.KeyPair),
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// RegisterKeyPair makes a key pair available for minting, keyed by key id.
func (i *Issuer) RegisterKeyPair(kp *keys.KeyPair) {
	i.keyPairs[kp.KeyID] = kp
}

// Generate builds and signs a session token. Business claims are merged
// with the registered claims taken from opts; the token id and not-before
// instant are pulled out of the business payload as meta fields. Expiry is
// measured from the not-before instant.
func (i *Issuer) Generate(businessClaims map[string]any, opts Options) (string, error) {
	kp, ok := i.keyPairs[opts.KeyID]
	if !ok {
		return "", errors.Errorf("token.Generate: no key pair registered for key id %q", opts.KeyID)
	}

	claims := jwt.MapClaims{}
	for k, v := range businessClaims {
		claims[k] = v
	}

	jti, _ := claims[ClaimTokenID].(string)
	if jti == "" {
		jti = uuid.New().String()
	}
	delete(claims, ClaimTokenID)

	notBefore := i.nowFunc()
	switch nbf := claims[ClaimNotBefore].(type) {
	case time.Time:
		notBefore = nbf
	case int64:
		notBefore = time.Unix(nbf, 0)
	case float64:
		notBefore = time.Unix(int64(nbf), 0)
	}
	delete(claims, ClaimNotBefore)

	claims["jti"] = jti
	claims["nbf"] = notBefore.Unix()
	claims["iat"] = i.nowFunc().Unix()
	claims["exp"] = notBefore.Add(opts.ExpiresIn).Unix()
	claims["iss"] = opts.Issuer
	claims["aud"] = opts.Audience

	tok := jwt.NewWithClaims(kp.SigningMethod(), claims)
	tok.Header["kid"] = kp.KeyID

	signed, err := tok.SignedString(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "token.Generate sign")
	}
	return signed, nil
}

// VerificationKey is the jwt keyfunc resolving a token's kid to the
// registered public key.
func (i *Issuer) VerificationKey(tok *jwt.Token) (any, error) {
	switch tok.Method.(type) {
	case *jwt.SigningMethodRSA:
	default:
		return nil, errors.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}

	kid, _ := tok.Header["kid"].(string)
	kp, ok := i.keyPairs[kid]
	if !ok {
		return nil, errors.Errorf("unknown key id %q", kid)
	}
	return kp.PublicKey, nil
}

// JWKS returns the public key set for all registered key pairs.
func (i *Issuer) JWKS() (*keys.JWKS, error) {
	set := &keys.JWKS{}
	for _, kp := range i.keyPairs {
		jwk, err := kp.ToJWK()
		if err != nil {
			return nil, errors.Wrap(err, "token.JWKS")
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}
