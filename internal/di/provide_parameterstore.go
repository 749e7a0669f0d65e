package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/services"
)

// ProvideSSMClient provides an SSM client for Parameter Store access
// Returns nil if SSM is not enabled (local development, docker compose)
func ProvideSSMClient(awsConfig aws.Config, useSSM UseSSM) *ssm.Client {
	if !useSSM {
		return nil
	}
	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore provides a ParameterStore implementation.
// A config file wins, then SSM when enabled, then environment variables.
func ProvideParameterStore(ctx context.Context, ssmClient *ssm.Client, env string, configFile ConfigFile) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	switch {
	case configFile != "":
		logger.Info().Str("path", string(configFile)).Msg("Using YAML file for configuration")
		return services.NewFileParameterStore(string(configFile))

	case ssmClient != nil:
		logger.Info().Str("env", env).Msg("Using AWS Systems Manager Parameter Store for configuration")
		return services.NewSSMParameterStore(ssmClient, env)

	default:
		logger.Info().Msg("Using environment variables for configuration")
		return services.NewEnvParameterStore()
	}
}

// ProvideAppConfig loads application configuration and resolves the client
// secret from Secrets Manager when only its name is configured.
func ProvideAppConfig(ctx context.Context, store services.ParameterStore, secrets *services.SecretsManagerService) (*services.Config, error) {
	logger := zerolog.Ctx(ctx)

	config, err := store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := secrets.ResolveClientSecret(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to resolve client secret: %w", err)
	}

	logger.Info().
		Str("openid_connect_url", config.OpenIDConnectURL).
		Bool("has_issuer", config.Issuer != "").
		Bool("has_client_id", config.ClientID != "").
		Bool("has_client_secret", config.ClientSecret != "").
		Dur("signature_cache_ttl", config.SignatureCacheTTL).
		Msg("Configuration loaded successfully")

	return config, nil
}
