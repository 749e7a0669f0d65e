package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/savaki/oidc-gate/cmd/oidc-gate/commands"
	"github.com/savaki/oidc-gate/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	// Check if running in Lambda environment
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		if os.Getenv("LAMBDA_HANDLER") == "session-key-rotator" {
			handler, err := commands.RotatorLambdaHandler(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to initialize rotation handler")
				os.Exit(1)
			}
			lambda.Start(handler)
			return
		}

		env := os.Getenv("ENV")
		if env == "" {
			env = os.Getenv("ENVIRONMENT")
		}

		handler, err := commands.LambdaHandler(ctx, env)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize Lambda handler")
			os.Exit(1)
		}

		// Use AWS Lambda HTTP adapter for API Gateway V2
		lambda.Start(httpadapter.NewV2(handler).ProxyWithContext)
		return
	}

	app := &cli.App{
		Name:  "oidc-gate",
		Usage: "OpenID Connect bearer token gate and sample application",
		Description: `Validates OpenID Connect ID tokens issued by an identity server such as Keycloak.

This tool provides commands for:
  - Serving the gated sample application (optionally waiting for the identity server)
  - Probing a health endpoint for container HEALTHCHECK use
  - Inspecting an identity server's discovery document
  - Verifying a token from the command line
  - Rotating the session cookie keys`,
		Commands: []*cli.Command{
			commands.ServeCommand(&logger),
			commands.HealthcheckCommand(&logger),
			commands.DiscoverCommand(&logger),
			commands.VerifyCommand(&logger),
			commands.SessionKeysCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
