package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/di"
	"github.com/savaki/oidc-gate/internal/metrics"
	"github.com/savaki/oidc-gate/internal/server"
	"github.com/urfave/cli/v2"
)

// configFlags select where configuration is loaded from.
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment name (selects the /<env>/oidc-gate SSM path)",
			EnvVars: []string{"ENV", "ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file (overrides environment variables and SSM)",
			EnvVars: []string{"CONFIG_FILE"},
		},
		&cli.BoolFlag{
			Name:    "ssm",
			Usage:   "Load configuration from AWS Systems Manager Parameter Store",
			EnvVars: []string{"USE_SSM"},
		},
	}
}

type containerInput struct {
	env         string
	configFile  string
	callbackURL string
	useSSM      bool
	disableAuth bool
}

func containerInputFrom(c *cli.Context) containerInput {
	return containerInput{
		env:        c.String("env"),
		configFile: c.String("config"),
		useSSM:     c.Bool("ssm"),
	}
}

func setupContainer(input containerInput) (di.Container, error) {
	return di.New(input.env,
		di.WithCallbackURL(input.callbackURL),
		di.WithDisableAuth(input.disableAuth),
		di.WithConfigFile(input.configFile),
		di.WithSSM(input.useSSM),
		di.WithProviders(
			di.ProvideAuthorizer,
			di.ProvideBearerAuth,
			di.ProvideSessionKeyService,
			di.ProvideSessionKeys,
			di.ProvideSessionAuth,
			di.ProvideGraphQL,
			server.NewHandler,
		),
	)
}

// buildHandler resolves the router and wraps it in the middleware stack.
func buildHandler(container di.Container, logger zerolog.Logger, workers int64) (http.Handler, error) {
	var handler http.Handler
	err := container.Invoke(func(h *server.Handler, recorder *metrics.Recorder) {
		handler = server.Wrap(h.Router(), logger, recorder, workers)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build handler: %w", err)
	}
	return handler, nil
}

// LambdaHandler builds the HTTP handler served through API Gateway. The
// callback URL comes from the PUBLIC_URL setting.
func LambdaHandler(ctx context.Context, env string) (http.Handler, error) {
	logger := zerolog.Ctx(ctx).With().Str("lambda", "server").Logger()

	input := containerInput{
		env:         env,
		configFile:  os.Getenv("CONFIG_FILE"),
		useSSM:      os.Getenv("USE_SSM") == "true",
		disableAuth: os.Getenv("DISABLE_AUTH") == "true",
	}

	logger.Info().
		Str("env", env).
		Bool("use_ssm", input.useSSM).
		Bool("disable_auth", input.disableAuth).
		Msg("Initializing Lambda handler")

	if input.disableAuth {
		logger.Warn().Msg("⚠️  Authentication is DISABLED - this should only be used for development")
	}

	container, err := setupContainer(input)
	if err != nil {
		return nil, fmt.Errorf("failed to setup DI container: %w", err)
	}

	return buildHandler(container, logger, 0)
}
