package di

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/graph-gophers/graphql-go"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/oidctest"
	"github.com/savaki/oidc-gate/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"
)

type Database struct {
	Name string
}

type Repository struct {
	DB *Database
}

func TestNew(t *testing.T) {
	t.Run("provides environment", func(t *testing.T) {
		container, err := New("test-env")
		require.NoError(t, err)
		assert.Equal(t, "test-env", MustGet[string](container))
	})

	t.Run("provides options", func(t *testing.T) {
		container, err := New("dev",
			WithCallbackURL("http://localhost:8000/oauth/callback"),
			WithDisableAuth(true),
			WithConfigFile("gate.yaml"),
			WithSSM(true),
		)
		require.NoError(t, err)

		assert.Equal(t, CallbackURL("http://localhost:8000/oauth/callback"), MustGet[CallbackURL](container))
		assert.Equal(t, DisableAuth(true), MustGet[DisableAuth](container))
		assert.Equal(t, ConfigFile("gate.yaml"), MustGet[ConfigFile](container))
		assert.Equal(t, UseSSM(true), MustGet[UseSSM](container))
	})

	t.Run("rejects duplicate providers", func(t *testing.T) {
		_, err := New("dev", withoutCore(), WithProviders(
			func() *Database { return &Database{Name: "db1"} },
			func() *Database { return &Database{Name: "db2"} },
		))
		assert.Error(t, err)
	})

	t.Run("rejects providers clashing with core", func(t *testing.T) {
		_, err := New("dev", WithProviders(ProvideLogger))
		assert.Error(t, err)
	})
}

func TestMustGet(t *testing.T) {
	t.Run("resolves nested dependencies", func(t *testing.T) {
		container, err := New("dev", withoutCore(), WithProviders(
			func() *Database { return &Database{Name: "dev-db"} },
			func(db *Database) *Repository { return &Repository{DB: db} },
		))
		require.NoError(t, err)

		repo := MustGet[*Repository](container)
		assert.Equal(t, "dev-db", repo.DB.Name)
	})

	t.Run("panics when dependency not found", func(t *testing.T) {
		container, err := New("dev", withoutCore())
		require.NoError(t, err)

		assert.Panics(t, func() { _ = MustGet[*Database](container) })
	})

	t.Run("panics when provider fails", func(t *testing.T) {
		container, err := New("dev", withoutCore(), WithProviders(func() (*Database, error) {
			return nil, errors.New("provider initialization failed")
		}))
		require.NoError(t, err)

		assert.Panics(t, func() { _ = MustGet[*Database](container) })
	})

	t.Run("implements Container", func(t *testing.T) {
		var _ Container = (*dig.Container)(nil)
	})
}

func gateEnv(t *testing.T, server *oidctest.Server) {
	t.Helper()
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("OPENID_CONNECT_URL", server.DiscoveryURL())
	t.Setenv("OIDC_ISSUER", server.Issuer)
	t.Setenv("OIDC_CLIENT_ID", "gate-client")
	t.Setenv("OIDC_CLIENT_SECRET", "")
	t.Setenv("OIDC_CLIENT_SECRET_NAME", "")
	t.Setenv("OIDC_GRANT_TYPES", "password")
	t.Setenv("REQUIRED_REALM_ROLES", "")
	t.Setenv("REQUIRED_CLIENT_ROLES", "")
	t.Setenv("ALLOWED_EMAIL_DOMAINS", "")
	t.Setenv("AUTHZ_POLICY_FILE", "")
	t.Setenv("SESSION_KEY_SECRET_NAME", "")
	t.Setenv("PUBLIC_URL", "")
}

func TestContainer_Gate(t *testing.T) {
	server := oidctest.NewServer(t)
	gateEnv(t, server)

	container, err := New("test", WithProviders(
		ProvideAuthorizer,
		ProvideBearerAuth,
		ProvideSessionKeyService,
		ProvideSessionKeys,
		ProvideSessionAuth,
		ProvideGraphQL,
	))
	require.NoError(t, err)

	config := MustGet[*services.Config](container)
	assert.Equal(t, server.DiscoveryURL(), config.OpenIDConnectURL)

	bearerAuth := MustGet[*auth.BearerAuth](container)
	assert.False(t, bearerAuth.IsNoOp())
	require.NotNil(t, bearerAuth.Flows().Password)
	assert.Nil(t, bearerAuth.Flows().Implicit)

	token, err := bearerAuth.Authenticate(context.Background(), "Bearer "+server.Token(t, server.Claims("alice")), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.Subject)

	assert.Nil(t, MustGet[*auth.SessionAuth](container), "no client secret, no browser login")
	assert.NotNil(t, MustGet[*graphql.Schema](container))
}

func TestContainer_DisableAuth(t *testing.T) {
	server := oidctest.NewServer(t)
	gateEnv(t, server)

	container, err := New("test", WithDisableAuth(true), WithProviders(
		ProvideAuthorizer,
		ProvideBearerAuth,
		ProvideSessionKeyService,
		ProvideSessionKeys,
		ProvideSessionAuth,
	))
	require.NoError(t, err)

	assert.True(t, MustGet[*auth.BearerAuth](container).IsNoOp())
	assert.True(t, MustGet[*auth.SessionAuth](container).IsNoOp())
}

func TestContainer_MissingURL(t *testing.T) {
	server := oidctest.NewServer(t)
	gateEnv(t, server)
	t.Setenv("OPENID_CONNECT_URL", "")

	container, err := New("test")
	require.NoError(t, err)

	err = container.Invoke(func(*services.Config) {})
	assert.Error(t, err)
}

func TestProvideParameterStore(t *testing.T) {
	ctx := zerolog.Nop().WithContext(context.Background())

	_, ok := ProvideParameterStore(ctx, nil, "dev", "gate.yaml").(*services.FileParameterStore)
	assert.True(t, ok)

	_, ok = ProvideParameterStore(ctx, nil, "dev", "").(*services.EnvParameterStore)
	assert.True(t, ok)
}

func TestProvideSSMClient(t *testing.T) {
	assert.Nil(t, ProvideSSMClient(awsConfigForTest(), false))
	assert.NotNil(t, ProvideSSMClient(awsConfigForTest(), true))
}

func TestProvideAuthorizer(t *testing.T) {
	ctx := zerolog.Nop().WithContext(context.Background())

	t.Run("none configured", func(t *testing.T) {
		authorizer, err := ProvideAuthorizer(ctx, &services.Config{})
		require.NoError(t, err)
		assert.False(t, authorizer.Enabled())
	})

	t.Run("roles and domains", func(t *testing.T) {
		authorizer, err := ProvideAuthorizer(ctx, &services.Config{
			RequiredRealmRoles:  []string{"admin"},
			AllowedEmailDomains: []string{"example.com"},
		})
		require.NoError(t, err)
		require.True(t, authorizer.Enabled())

		profile := (&auth.IDToken{
			Subject:     "alice",
			Email:       "alice@example.com",
			RealmAccess: auth.Access{Roles: []string{"admin"}},
		}).Profile()
		assert.NoError(t, authorizer.Authorize(profile))

		profile.RealmRoles = nil
		assert.Error(t, authorizer.Authorize(profile))
	})

	t.Run("client roles", func(t *testing.T) {
		authorizer, err := ProvideAuthorizer(ctx, &services.Config{
			ClientID:            "gate-client",
			RequiredClientRoles: []string{"reader"},
		})
		require.NoError(t, err)
		require.True(t, authorizer.Enabled())

		granted := (&auth.IDToken{
			Subject:        "alice",
			ResourceAccess: map[string]auth.Access{"gate-client": {Roles: []string{"reader", "writer"}}},
		}).Profile()
		assert.NoError(t, authorizer.Authorize(granted))

		otherClient := (&auth.IDToken{
			Subject:        "bob",
			ResourceAccess: map[string]auth.Access{"account": {Roles: []string{"reader"}}},
		}).Profile()
		assert.Error(t, authorizer.Authorize(otherClient))
	})

	t.Run("client roles without client id", func(t *testing.T) {
		_, err := ProvideAuthorizer(ctx, &services.Config{RequiredClientRoles: []string{"reader"}})
		assert.Error(t, err)
	})

	t.Run("policy file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.rego")
		require.NoError(t, os.WriteFile(path, []byte("package gate.authz\n\nallow if input.claims.sub == \"alice\"\n"), 0o600))

		authorizer, err := ProvideAuthorizer(ctx, &services.Config{PolicyFile: path})
		require.NoError(t, err)
		assert.NoError(t, authorizer.Authorize((&auth.IDToken{Subject: "alice", Claims: map[string]any{"sub": "alice"}}).Profile()))
		assert.Error(t, authorizer.Authorize((&auth.IDToken{Subject: "bob", Claims: map[string]any{"sub": "bob"}}).Profile()))
	})

	t.Run("missing policy file", func(t *testing.T) {
		_, err := ProvideAuthorizer(ctx, &services.Config{PolicyFile: filepath.Join(t.TempDir(), "missing.rego")})
		assert.Error(t, err)
	})
}

func awsConfigForTest() aws.Config {
	return aws.Config{Region: "us-east-1"}
}
