package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/collabverse/authbridge/cookies"
	"github.com/collabverse/authbridge/identity"
	"github.com/collabverse/authbridge/identity/cloud"
	"github.com/collabverse/authbridge/identity/onprem"
	"github.com/collabverse/authbridge/internal/config"
	"github.com/collabverse/authbridge/internal/metrics"
	"github.com/collabverse/authbridge/loginflow"
	"github.com/collabverse/authbridge/logoutflow"
	"github.com/collabverse/authbridge/qlik/spaces"
	"github.com/collabverse/authbridge/roles"
	"github.com/collabverse/authbridge/server"
	"github.com/collabverse/authbridge/tenants"
	"github.com/collabverse/authbridge/token"
	"github.com/collabverse/authbridge/token/keys"
	"github.com/collabverse/authbridge/tokencache"
)

func main() {
	log := newLogger()
	for {
		if err := run(log); err != nil {
			log.Fatal().Err(err).Msg("server exited")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	displayAppname(c.GetAppName())

	handler, err := buildServer(c, log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer, log)
	waitForStopSignal()
	return shutdown(httpServer)
}

func buildServer(c config.Config, log zerolog.Logger) (*server.Server, error) {
	registry, err := tenants.LoadFile(c.GetTenantsFile())
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}

	keyPair, err := signingKey(c)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	issuer := token.NewIssuer()
	issuer.RegisterKeyPair(keyPair)

	codec, err := cookies.NewCodec(c.GetCookieSecret())
	if err != nil {
		return nil, fmt.Errorf("cookie codec: %w", err)
	}

	mapper := roles.NewMapper(c.GetRoleMappings(), c.GetUnmappedRoles())
	tokens := tokencache.New(
		tokencache.WithGrantFunc(countedGrant()),
		tokencache.WithLogger(log),
	)

	onPrem := onprem.New(registry,
		onprem.WithDefaultRoles(c.GetDefaultRoles()),
		onprem.WithDefaultScopes(c.GetDefaultScopes()),
		onprem.WithLogger(log),
	)
	cloudProvider := cloud.New(registry, spaces.NewHTTPClient(), mapper, tokens,
		cloud.WithLogger(log),
	)

	identities := identity.NewFactory(registry)
	identities.Register(tenants.AuthTypeWindows, onPrem)
	identities.Register(tenants.AuthTypeCloud, cloudProvider)

	tokenOptions := token.Options{
		Issuer:    c.GetTokenIssuer(),
		Audience:  c.GetTokenAudience(),
		ExpiresIn: c.GetTokenExpiresIn(),
		KeyID:     c.GetKeyID(),
		Algorithm: c.GetAlgorithm(),
	}

	login := loginflow.New(registry, codec, issuer, tokenOptions,
		loginflow.WithProviderFactory(loginflow.OIDCProviderFactory(c.GetBaseURL()+"/auth/login")),
		loginflow.WithEchoAccessToken(c.GetEchoAccessToken()),
		loginflow.WithLogger(log),
	)
	logout := logoutflow.New(registry, codec, identities, logoutflow.WithLogger(log))

	return server.New(c, server.Deps{
		Registry:   registry,
		Identities: identities,
		Sessions:   onPrem,
		Login:      login,
		Logout:     logout,
		Issuer:     issuer,
		Logger:     log,
	}), nil
}

func signingKey(c config.Config) (*keys.KeyPair, error) {
	if pem := c.GetPrivateKeyPEM(); pem != "" {
		return keys.LoadKeyPairFromPEM(c.GetKeyID(), c.GetAlgorithm(), pem)
	}
	return keys.GenerateRSAKeyPair(c.GetKeyID(), 2048)
}

func countedGrant() tokencache.GrantFunc {
	return func(ctx context.Context, issuer, clientID, clientSecret string) (*tokencache.Token, error) {
		tok, err := tokencache.DefaultGrant(ctx, issuer, clientID, clientSecret)
		if err != nil {
			metrics.TokenGrants.WithLabelValues(issuer, metrics.OutcomeError).Inc()
			return nil, err
		}
		metrics.TokenGrants.WithLabelValues(issuer, metrics.OutcomeOK).Inc()
		return tok, nil
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if (config.EnvVars{}).GetEnv() == "DEV" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func listenAndServe(httpServer *http.Server, log zerolog.Logger) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("listen and serve")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
