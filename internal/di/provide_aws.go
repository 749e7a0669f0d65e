package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/savaki/oidc-gate/internal/services"
)

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

// ProvideSecretsManagerClient is only called on when a secret name is configured.
func ProvideSecretsManagerClient(config aws.Config) services.SecretsAPI {
	return secretsmanager.NewFromConfig(config)
}

func ProvideSessionKeyRotator(config aws.Config) *services.SessionKeyRotator {
	return services.NewSessionKeyRotator(secretsmanager.NewFromConfig(config))
}
