package di

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/authz"
	"github.com/savaki/oidc-gate/internal/discovery"
	"github.com/savaki/oidc-gate/internal/metrics"
	"github.com/savaki/oidc-gate/internal/services"
)

func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideDiscoverer(config *services.Config, recorder *metrics.Recorder) *discovery.Discoverer {
	return discovery.New(config.SignatureCacheTTL, discovery.WithMetrics(recorder))
}

// ProvideAuthorizer assembles the configured policies. With none configured
// every authenticated user is allowed.
func ProvideAuthorizer(ctx context.Context, config *services.Config) (*authz.Authorizer, error) {
	logger := zerolog.Ctx(ctx)

	var policies []authz.Policy
	if len(config.RequiredRealmRoles) > 0 {
		policies = append(policies, &authz.RealmRolePolicy{Roles: config.RequiredRealmRoles})
	}
	if len(config.RequiredClientRoles) > 0 {
		if config.ClientID == "" {
			return nil, fmt.Errorf("required client roles %v need OIDC_CLIENT_ID", config.RequiredClientRoles)
		}
		policies = append(policies, &authz.ClientRolePolicy{ClientID: config.ClientID, Roles: config.RequiredClientRoles})
	}
	if len(config.AllowedEmailDomains) > 0 {
		policies = append(policies, &authz.EmailDomainPolicy{Domains: config.AllowedEmailDomains})
	}
	if config.PolicyFile != "" {
		policy, err := authz.LoadRegoPolicy(ctx, config.PolicyFile)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}

	if len(policies) == 0 {
		logger.Info().Msg("Authorization disabled - all authenticated users allowed")
		return nil, nil
	}

	logger.Info().
		Strs("required_realm_roles", config.RequiredRealmRoles).
		Strs("required_client_roles", config.RequiredClientRoles).
		Strs("allowed_email_domains", config.AllowedEmailDomains).
		Str("policy_file", config.PolicyFile).
		Msg("Authorization enabled")

	return authz.NewAuthorizer(true, policies...), nil
}

func ProvideBearerAuth(ctx context.Context, config *services.Config, discoverer *discovery.Discoverer, authorizer *authz.Authorizer, recorder *metrics.Recorder, disableAuth DisableAuth) (*auth.BearerAuth, error) {
	logger := zerolog.Ctx(ctx)

	if bool(disableAuth) {
		logger.Warn().Msg("⚠️  Authentication is DISABLED - using NoOp bearer authenticator (development only)")
		return auth.NewNoOpBearerAuth(), nil
	}

	grantTypes, err := auth.ParseGrantTypes(config.GrantTypes)
	if err != nil {
		return nil, err
	}

	bearerAuth, err := auth.NewBearerAuth(ctx, auth.BearerAuthInput{
		OpenIDConnectURL: config.OpenIDConnectURL,
		Issuer:           config.Issuer,
		ClientID:         config.ClientID,
		Scopes:           config.Scopes,
		GrantTypes:       grantTypes,
		Discoverer:       discoverer,
		Authorizer:       authorizer,
		Metrics:          recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bearer authenticator: %w", err)
	}
	return bearerAuth, nil
}

// ProvideSessionKeyService returns nil when no session key secret is configured.
func ProvideSessionKeyService(ctx context.Context, client services.SecretsAPI, config *services.Config) *services.SessionKeyService {
	if config.SessionKeySecretName == "" {
		return nil
	}
	return services.NewSessionKeyService(ctx, client, config.SessionKeySecretName)
}

// ProvideSessionKeys returns the cookie hash/block key pairs derived from the
// rotated session secrets, or none to let the session store use ephemeral keys.
func ProvideSessionKeys(ctx context.Context, keyService *services.SessionKeyService) ([][]byte, error) {
	logger := zerolog.Ctx(ctx)

	if keyService == nil {
		logger.Warn().Msg("No session key secret configured, using ephemeral session key")
		return [][]byte{}, nil
	}

	keys, err := keyService.GetCookieKeys(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch session keys from Secrets Manager")

		// Ephemeral keys break sessions across Lambda containers causing auth loops
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			return nil, fmt.Errorf("session keys required in Lambda environment: %w", err)
		}

		logger.Warn().Msg("Using ephemeral session key for local development only")
		return [][]byte{}, nil
	}
	return keys, nil
}

// ProvideSessionAuth returns nil, leaving browser login unrouted, when no
// client secret is configured or the auth server cannot be discovered.
func ProvideSessionAuth(ctx context.Context, config *services.Config, discoverer *discovery.Discoverer, authorizer *authz.Authorizer, callbackURL CallbackURL, sessionKeys [][]byte, disableAuth DisableAuth) *auth.SessionAuth {
	logger := zerolog.Ctx(ctx)

	if bool(disableAuth) {
		return auth.NewNoOpSessionAuth()
	}
	if config.ClientSecret == "" {
		logger.Info().Msg("No client secret configured, browser login disabled")
		return nil
	}

	callback := string(callbackURL)
	if config.PublicURL != "" {
		callback = strings.TrimSuffix(config.PublicURL, "/") + "/oauth/callback"
	}

	// In local dev, we need to disable Secure cookie flag since we're on HTTP
	isLocalDev := strings.HasPrefix(callback, "http://localhost") ||
		strings.HasPrefix(callback, "http://127.0.0.1")

	sessionAuth, err := auth.NewSessionAuth(ctx, auth.SessionAuthInput{
		OpenIDConnectURL: config.OpenIDConnectURL,
		Issuer:           config.Issuer,
		ClientID:         config.ClientID,
		ClientSecret:     config.ClientSecret,
		CallbackURL:      callback,
		Discoverer:       discoverer,
		Authorizer:       authorizer,
		SessionKeys:      sessionKeys,
		IsLocalDev:       isLocalDev,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Could not initialize session login, browser login disabled")
		return nil
	}
	return sessionAuth
}
