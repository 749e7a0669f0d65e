package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsManagerService struct {
	client SecretsAPI
}

// ClientCredentials is the JSON layout of an OAuth client secret.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func NewSecretsManagerService(client SecretsAPI) *SecretsManagerService {
	return &SecretsManagerService{client: client}
}

// GetClientCredentials retrieves OAuth client credentials stored as JSON.
func (s *SecretsManagerService) GetClientCredentials(ctx context.Context, secretName string) (*ClientCredentials, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretName)
	}

	var credentials ClientCredentials
	if err := json.Unmarshal([]byte(*result.SecretString), &credentials); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client credentials: %w", err)
	}

	if credentials.ClientSecret == "" {
		return nil, fmt.Errorf("client_secret is empty in secret %s", secretName)
	}

	return &credentials, nil
}

// ResolveClientSecret fills config.ClientSecret (and ClientID when unset)
// from Secrets Manager if only a secret name is configured.
func (s *SecretsManagerService) ResolveClientSecret(ctx context.Context, config *Config) error {
	if config.ClientSecret != "" || config.ClientSecretName == "" {
		return nil
	}

	credentials, err := s.GetClientCredentials(ctx, config.ClientSecretName)
	if err != nil {
		return err
	}

	config.ClientSecret = credentials.ClientSecret
	if config.ClientID == "" {
		config.ClientID = credentials.ClientID
	}
	return nil
}
