// Package cookies carries the login and logout workflow state in
// authenticated-encrypted client cookies. There is no server-side session
// store: a cookie payload is the only transient state, so every payload is
// TTL-bounded and validated structurally after decryption.
package cookies

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	apperrors "github.com/collabverse/authbridge/internal/errors"
)

const nonceSize = 24

// Codec seals and opens cookie payloads with a key derived from the shared
// cookie secret.
type Codec struct {
	key     [32]byte
	nowFunc func() time.Time
}

type Option func(*Codec)

func WithNowFunc(now func() time.Time) Option {
	return func(c *Codec) { c.nowFunc = now }
}

func NewCodec(secret string, options ...Option) (*Codec, error) {
	if secret == "" {
		return nil, apperrors.Validation("cookie secret is required")
	}
	c := &Codec{
		key:     sha256.Sum256([]byte(secret)),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	IssuedAt int64           `json:"iat"`
	Payload  json.RawMessage `json:"p"`
}

// Encode seals the payload into a base64url cookie value.
func (c *Codec) Encode(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Wrapf(err, "cookies.Encode marshal")
	}
	env, err := json.Marshal(envelope{IssuedAt: c.nowFunc().Unix(), Payload: raw})
	if err != nil {
		return "", apperrors.Wrapf(err, "cookies.Encode envelope")
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", apperrors.Wrapf(err, "cookies.Encode nonce")
	}

	sealed := secretbox.Seal(nonce[:], env, &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a cookie value, enforces its TTL, and unmarshals the payload.
// A cookie that fails to open is indistinguishable from a tampered one;
// both are unauthorized.
func (c *Codec) Decode(value string, ttl time.Duration, payload any) error {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(sealed) <= nonceSize {
		return apperrors.Unauthorized("invalid cookie payload")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	opened, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return apperrors.Unauthorized("invalid cookie payload")
	}

	var env envelope
	if err := json.Unmarshal(opened, &env); err != nil {
		return apperrors.Unauthorized("invalid cookie payload")
	}
	if c.nowFunc().After(time.Unix(env.IssuedAt, 0).Add(ttl)) {
		return apperrors.Unauthorized("cookie expired")
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return apperrors.Unauthorized("invalid cookie payload")
	}
	return nil
}

// Set writes an encrypted cookie. All workflow cookies are httpOnly with a
// restrictive same-site policy.
func Set(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// Clear expires a cookie immediately.
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
