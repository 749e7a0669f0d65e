package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/authz"
	"github.com/savaki/oidc-gate/internal/gql"
	"github.com/savaki/oidc-gate/internal/metrics"
	"github.com/savaki/oidc-gate/internal/oidctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	idp      *oidctest.Server
	handler  http.Handler
	recorder *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	idp := oidctest.NewServer(t)
	recorder := metrics.New()
	ctx := zerolog.Nop().WithContext(context.Background())

	bearerAuth, err := auth.NewBearerAuth(ctx, auth.BearerAuthInput{
		OpenIDConnectURL: idp.DiscoveryURL(),
		Issuer:           idp.Issuer,
		ClientID:         "gate-client",
		Authorizer:       authz.NewAuthorizer(true, &authz.RealmRolePolicy{Roles: []string{"admin"}}),
		Metrics:          recorder,
	})
	require.NoError(t, err)

	schema, err := gql.NewSchema(gql.NewResolver(gql.Config{BearerAuth: bearerAuth}))
	require.NoError(t, err)

	h := NewHandler(Config{BearerAuth: bearerAuth, Schema: schema, Metrics: recorder})
	return &fixture{
		idp:      idp,
		handler:  Wrap(h.Router(), zerolog.Nop(), recorder, 4),
		recorder: recorder,
	}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Probes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = f.do(t, "GET", "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", decode(t, w)["status"])
}

func TestRouter_ReadyWhenAuthServerDown(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL + oidctest.DiscoveryPath
	down.Close()

	bearerAuth, err := auth.NewBearerAuth(zerolog.Nop().WithContext(context.Background()), auth.BearerAuthInput{OpenIDConnectURL: url})
	require.NoError(t, err)
	assert.True(t, bearerAuth.Flows().Empty())

	schema, err := gql.NewSchema(gql.NewResolver(gql.Config{BearerAuth: bearerAuth}))
	require.NoError(t, err)

	router := NewHandler(Config{BearerAuth: bearerAuth, Schema: schema}).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Could not reach auth server", decode(t, w)["detail"])
}

func TestRouter_Auth(t *testing.T) {
	f := newFixture(t)

	t.Run("missing token", func(t *testing.T) {
		w := f.do(t, "GET", "/auth", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "Missing bearer token", decode(t, w)["detail"])
	})

	t.Run("valid token", func(t *testing.T) {
		w := f.do(t, "GET", "/auth", f.idp.Token(t, f.idp.Claims("alice")), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Hello alice", decode(t, w)["message"])
	})

	t.Run("expired token", func(t *testing.T) {
		claims := f.idp.Claims("alice")
		claims["exp"] = time.Now().Add(-time.Minute).Unix()

		w := f.do(t, "GET", "/auth", f.idp.Token(t, claims), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Unauthorized: Signature has expired.", decode(t, w)["detail"])
	})
}

func TestRouter_Optional(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/optional", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello anonymous", decode(t, w)["message"])

	w = f.do(t, "GET", "/optional", f.idp.Token(t, f.idp.Claims("bob")), "")
	assert.Equal(t, "Hello bob", decode(t, w)["message"])

	w = f.do(t, "GET", "/optional", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_Admin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/admin", f.idp.Token(t, f.idp.Claims("alice")), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", decode(t, w)["detail"])

	claims := f.idp.Claims("alice")
	claims["realm_access"] = jwt.MapClaims{"roles": []string{"admin"}}
	w = f.do(t, "GET", "/admin", f.idp.Token(t, claims), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome, administrator alice", decode(t, w)["message"])
}

func TestRouter_Security(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/docs/security", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SecuritySchemes struct {
			OIDC struct {
				Type  string     `json:"type"`
				Flows auth.Flows `json:"flows"`
			} `json:"OIDC"`
		} `json:"securitySchemes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "oauth2", body.SecuritySchemes.OIDC.Type)
	require.NotNil(t, body.SecuritySchemes.OIDC.Flows.Implicit)
	assert.Equal(t, f.idp.Issuer+"/protocol/openid-connect/auth", body.SecuritySchemes.OIDC.Flows.Implicit.AuthorizationURL)
}

func TestRouter_GraphQL(t *testing.T) {
	f := newFixture(t)
	query := `{"query":"{ me { subject } }"}`

	w := f.do(t, "POST", "/graphql", "", query)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"me":null}}`, w.Body.String())

	w = f.do(t, "POST", "/graphql", f.idp.Token(t, f.idp.Claims("carol")), query)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"me":{"subject":"carol"}}}`, w.Body.String())

	w = f.do(t, "GET", "/graphql", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "GraphiQL")
}

func TestRouter_GraphQLGet(t *testing.T) {
	f := newFixture(t)
	path := "/graphql?" + url.Values{"query": {"{ me { subject } }"}}.Encode()

	w := f.do(t, "GET", path, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"me":null}}`, w.Body.String())

	w = f.do(t, "GET", path, f.idp.Token(t, f.idp.Claims("carol")), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"me":{"subject":"carol"}}}`, w.Body.String())

	named := "/graphql?" + url.Values{
		"query":         {"query Who { ok } query Me { me { subject } }"},
		"operationName": {"Who"},
		"variables":     {"{}"},
	}.Encode()
	w = f.do(t, "GET", named, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"ok":"ok"}}`, w.Body.String())

	w = f.do(t, "GET", "/graphql?"+url.Values{"query": {"{ ok }"}, "variables": {"[1"}}.Encode(), "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/graphql", "invalid", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_NoSessionRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/login", "", "").Code)
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, "GET", "/auth", "", "")

	w := f.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `oidc_gate_authentications_total{mode="required",outcome="unauthorized"} 1`)
	assert.Contains(t, w.Body.String(), "oidc_gate_http_request_duration_seconds")
}

func TestLoggingMiddleware_KeepsRequestID(t *testing.T) {
	handler := loggingMiddleware(zerolog.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestLimitMiddleware(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := limitMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil).WithContext(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(release)
	<-done
}

func TestLimitMiddleware_Unlimited(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := limitMiddleware(0)(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
