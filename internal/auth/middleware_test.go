package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/savaki/oidc-gate/internal/authz"
	"github.com/savaki/oidc-gate/internal/metrics"
	"github.com/savaki/oidc-gate/internal/oidctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greet(w http.ResponseWriter, r *http.Request) {
	token, ok := TokenFromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("Hello anonymous"))
		return
	}
	_, _ = w.Write([]byte("Hello " + token.DisplayName()))
}

func serve(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Detail
}

func TestRequired(t *testing.T) {
	server := oidctest.NewServer(t)
	a := newBearerAuth(t, server, func(in *BearerAuthInput) { in.Metrics = metrics.New() })
	handler := a.Required()(http.HandlerFunc(greet))

	t.Run("authenticated", func(t *testing.T) {
		w := serve(handler, "Bearer "+server.Token(t, server.Claims("alice")))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Hello alice", w.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		w := serve(handler, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "Missing bearer token", decodeDetail(t, w))
	})

	t.Run("route scope", func(t *testing.T) {
		scoped := a.Required("admin")(http.HandlerFunc(greet))
		w := serve(scoped, "Bearer "+server.Token(t, server.Claims("alice")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, decodeDetail(t, w), "Missing scope token")
	})
}

func TestOptional(t *testing.T) {
	server := oidctest.NewServer(t)
	a := newBearerAuth(t, server, nil)
	handler := a.Optional()(http.HandlerFunc(greet))

	t.Run("anonymous", func(t *testing.T) {
		w := serve(handler, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Hello anonymous", w.Body.String())
	})

	t.Run("authenticated", func(t *testing.T) {
		w := serve(handler, "Bearer "+server.Token(t, server.Claims("bob")))
		assert.Equal(t, "Hello bob", w.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		w := serve(handler, "Bearer garbage")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthorized(t *testing.T) {
	server := oidctest.NewServer(t)
	a := newBearerAuth(t, server, func(in *BearerAuthInput) {
		in.Authorizer = authz.NewAuthorizer(true, &authz.RealmRolePolicy{Roles: []string{"admin"}})
	})
	handler := a.Authorized()(http.HandlerFunc(greet))

	t.Run("role present", func(t *testing.T) {
		claims := server.Claims("root")
		claims["realm_access"] = map[string]any{"roles": []string{"admin"}}

		w := serve(handler, "Bearer "+server.Token(t, claims))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("role missing", func(t *testing.T) {
		w := serve(handler, "Bearer "+server.Token(t, server.Claims("alice")))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "Forbidden", decodeDetail(t, w))
	})

	t.Run("required does not authorize", func(t *testing.T) {
		w := serve(a.Required()(http.HandlerFunc(greet)), "Bearer "+server.Token(t, server.Claims("alice")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestNoOpMiddleware(t *testing.T) {
	w := serve(NewNoOpBearerAuth().Required()(http.HandlerFunc(greet)), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello developer", w.Body.String())
}
