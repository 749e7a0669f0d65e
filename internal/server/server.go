// Package server routes the gate's HTTP surface: health, metrics, the
// bearer-protected sample endpoints, GraphQL and browser login.
package server

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/health"
	"github.com/savaki/oidc-gate/internal/metrics"
	"go.uber.org/dig"
)

//go:embed graphiql.html
var graphiqlHTML string

// ReadyTimeout bounds the readiness checks behind /ready.
const ReadyTimeout = 5 * time.Second

type Config struct {
	dig.In

	BearerAuth  *auth.BearerAuth
	SessionAuth *auth.SessionAuth `optional:"true"`
	Schema      *graphql.Schema
	Metrics     *metrics.Recorder
}

type Handler struct {
	bearerAuth  *auth.BearerAuth
	sessionAuth *auth.SessionAuth
	schema      *graphql.Schema
	recorder    *metrics.Recorder
}

type MessageResponse struct {
	Message string `json:"message"`
}

func NewHandler(config Config) *Handler {
	return &Handler{
		bearerAuth:  config.BearerAuth,
		sessionAuth: config.SessionAuth,
		schema:      config.Schema,
		recorder:    config.Metrics,
	}
}

// Router configures all HTTP routes
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Probes and metrics (no authentication)
	mux.HandleFunc("GET /health", health.LivenessHandler())
	mux.HandleFunc("GET /ready", health.ReadinessHandler(ReadyTimeout, map[string]health.Checker{
		"auth_server": health.CheckerFunc(h.bearerAuth.Ready),
	}))
	mux.Handle("GET /metrics", h.recorder.Handler())
	mux.HandleFunc("GET /docs/security", h.handleSecurity)

	// Bearer protected sample endpoints
	mux.Handle("GET /auth", h.bearerAuth.Required()(http.HandlerFunc(h.handleHello)))
	mux.Handle("GET /optional", h.bearerAuth.Optional()(http.HandlerFunc(h.handleHello)))
	mux.Handle("GET /admin", h.bearerAuth.Authorized()(http.HandlerFunc(h.handleAdmin)))

	// GraphQL: anonymous requests resolve me to null
	// GET /graphql answers ?query= and otherwise serves GraphiQL
	// POST /graphql handles GraphQL queries
	mux.Handle("GET /graphql", h.bearerAuth.Optional()(http.HandlerFunc(h.handleGraphQLGet)))
	mux.Handle("POST /graphql", h.bearerAuth.Optional()(&relay.Handler{Schema: h.schema}))

	// Browser login routes, only when a confidential client is configured
	if h.sessionAuth != nil {
		mux.HandleFunc("GET /login", h.sessionAuth.HandleLogin)
		mux.HandleFunc("GET /logout", h.sessionAuth.HandleLogout)
		mux.HandleFunc("GET /oauth/callback", h.sessionAuth.HandleCallback)
		mux.Handle("GET /{$}", h.sessionAuth.RequireSession(true)(http.HandlerFunc(h.handleProfile)))
	}

	return mux
}

// handleHello greets the bearer of the token, or an anonymous caller when
// the route allows one.
func (h *Handler) handleHello(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		h.jsonResponse(w, http.StatusOK, MessageResponse{Message: "Hello anonymous"})
		return
	}
	h.jsonResponse(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Hello %s", token.DisplayName())})
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Welcome, administrator %s", token.DisplayName()),
		"claims":  token.Claims,
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, _ := auth.ProfileFromContext(r.Context())
	h.jsonResponse(w, http.StatusOK, profile)
}

// handleSecurity publishes the OAuth flows as an OpenAPI security scheme.
func (h *Handler) handleSecurity(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"securitySchemes": h.bearerAuth.Flows().SecurityScheme(),
	})
}

// handleGraphQLGet executes a query passed as URL parameters, following the
// GraphQL over HTTP GET convention of query, operationName and a JSON encoded
// variables object.
func (h *Handler) handleGraphQLGet(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("query")
	if query == "" {
		h.handleGraphiQL(w, r)
		return
	}

	var variables map[string]any
	if raw := params.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &variables); err != nil {
			h.jsonResponse(w, http.StatusBadRequest, map[string]string{"detail": "variables must be a JSON object"})
			return
		}
	}

	response := h.schema.Exec(r.Context(), query, params.Get("operationName"), variables)
	h.jsonResponse(w, http.StatusOK, response)
}

// handleGraphiQL serves the GraphiQL interface
func (h *Handler) handleGraphiQL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graphiqlHTML))
}

// jsonResponse writes a JSON response
func (h *Handler) jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// Wrap applies the middleware stack: logging -> metrics -> worker limit.
func Wrap(handler http.Handler, logger zerolog.Logger, recorder *metrics.Recorder, workers int64) http.Handler {
	return loggingMiddleware(logger, recorder)(limitMiddleware(workers)(handler))
}
