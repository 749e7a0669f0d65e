package gql

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/oidctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchemaForTest(t *testing.T) (*oidctest.Server, *auth.BearerAuth, func(ctx context.Context, query string) map[string]any) {
	t.Helper()

	server := oidctest.NewServer(t)
	bearerAuth, err := auth.NewBearerAuth(context.Background(), auth.BearerAuthInput{
		OpenIDConnectURL: server.DiscoveryURL(),
		ClientID:         "gate-client",
		GrantTypes:       []auth.GrantType{auth.GrantImplicit, auth.GrantPassword},
	})
	require.NoError(t, err)

	schema, err := NewSchema(NewResolver(Config{BearerAuth: bearerAuth}))
	require.NoError(t, err)

	exec := func(ctx context.Context, query string) map[string]any {
		resp := schema.Exec(ctx, query, "", nil)
		require.Empty(t, resp.Errors)

		var data map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		return data
	}
	return server, bearerAuth, exec
}

func TestResolver_Ok(t *testing.T) {
	_, _, exec := newSchemaForTest(t)
	data := exec(context.Background(), `{ ok }`)
	assert.Equal(t, "ok", data["ok"])
}

func TestResolver_Me(t *testing.T) {
	server, bearerAuth, exec := newSchemaForTest(t)

	t.Run("anonymous", func(t *testing.T) {
		data := exec(context.Background(), `{ me { subject } }`)
		assert.Nil(t, data["me"])
	})

	t.Run("authenticated", func(t *testing.T) {
		token, err := bearerAuth.Authenticate(context.Background(), "Bearer "+server.Token(t, server.Claims("alice")), nil, true)
		require.NoError(t, err)

		ctx := auth.WithToken(context.Background(), token)
		data := exec(ctx, `{ me { subject username email audience scopes realmRoles expiresAt authTime } }`)

		me := data["me"].(map[string]any)
		assert.Equal(t, "alice", me["subject"])
		assert.Equal(t, "alice", me["username"])
		assert.Equal(t, "alice@example.com", me["email"])
		assert.Equal(t, []any{"gate-client"}, me["audience"])
		assert.Equal(t, []any{"openid", "profile", "email"}, me["scopes"])
		assert.Equal(t, []any{}, me["realmRoles"])
		assert.NotEmpty(t, me["expiresAt"])
		assert.Nil(t, me["authTime"])
	})
}

func TestResolver_Flows(t *testing.T) {
	server, _, exec := newSchemaForTest(t)

	data := exec(context.Background(), `{ flows { grantType authorizationUrl tokenUrl } }`)
	flows := data["flows"].([]any)
	require.Len(t, flows, 2)

	password := flows[0].(map[string]any)
	assert.Equal(t, "password", password["grantType"])
	assert.Nil(t, password["authorizationUrl"])
	assert.Equal(t, server.Issuer+"/protocol/openid-connect/token", password["tokenUrl"])

	implicit := flows[1].(map[string]any)
	assert.Equal(t, "implicit", implicit["grantType"])
	assert.Equal(t, server.Issuer+"/protocol/openid-connect/auth", implicit["authorizationUrl"])
}
