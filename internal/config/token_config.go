package config

import (
	"strconv"
	"time"
)

type TokenConfig interface {
	GetTokenIssuer() string
	GetTokenAudience() string
	GetTokenExpiresIn() time.Duration
	GetPrivateKeyPEM() string
	GetKeyID() string
	GetAlgorithm() string
	GetEchoAccessToken() bool
}

type Token struct{}

var _ TokenConfig = Token{}

func (Token) GetTokenIssuer() string {
	return GetEnv("JWT_ISSUER", "authbridge")
}

func (Token) GetTokenAudience() string {
	return GetEnv("JWT_AUDIENCE", "mashups")
}

func (Token) GetTokenExpiresIn() time.Duration {
	raw := GetEnv("JWT_EXPIRES_IN", "1h")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 1 * time.Hour
	}
	return d
}

// GetPrivateKeyPEM returns the PEM-encoded RSA signing key. Empty means a
// key pair is generated at startup, which is fine for a single instance
// but not across restarts.
func (Token) GetPrivateKeyPEM() string {
	return GetEnv("JWT_PRIVATE_KEY", "")
}

func (Token) GetKeyID() string {
	return GetEnv("JWT_KEY_ID", "authbridge-1")
}

func (Token) GetAlgorithm() string {
	return GetEnv("JWT_ALGORITHM", "RS256")
}

// GetEchoAccessToken controls whether the external IdP access token is
// copied into the internal token's claims.
func (Token) GetEchoAccessToken() bool {
	echo, err := strconv.ParseBool(GetEnv("ECHO_ACCESS_TOKEN", "false"))
	if err != nil {
		return false
	}
	return echo
}
