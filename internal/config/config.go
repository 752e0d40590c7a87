package config

type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	IdentityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetTenantsFile() string
	GetCookieSecret() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Token
	Identity
}

func New() Config {
	return mainConfig{}
}
