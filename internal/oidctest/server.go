// Package oidctest runs an in-process identity server for tests. It publishes
// a discovery document and a JWKS, and signs ID tokens with its own key.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DiscoveryPath = "/realms/test/.well-known/openid-configuration"
	KeyID         = "test-key"
)

// Server is a fake OpenID Connect identity server.
type Server struct {
	*httptest.Server

	Key       *rsa.PrivateKey
	Issuer    string
	discovery atomic.Int64
	healthy   atomic.Bool
}

// NewServer starts a Server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	s := &Server{Key: key}
	s.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+DiscoveryPath, s.handleDiscovery)
	mux.HandleFunc("GET /realms/test/protocol/openid-connect/certs", s.handleCerts)
	mux.HandleFunc("GET /health/ready", s.handleHealth)

	s.Server = httptest.NewServer(mux)
	s.Issuer = s.URL + "/realms/test"
	t.Cleanup(s.Close)

	return s
}

// DiscoveryURL is the "well known" configuration URL.
func (s *Server) DiscoveryURL() string {
	return s.URL + DiscoveryPath
}

// HealthURL is the readiness endpoint, toggled with SetHealthy.
func (s *Server) HealthURL() string {
	return s.URL + "/health/ready"
}

// DiscoveryHits counts discovery document requests served.
func (s *Server) DiscoveryHits() int64 {
	return s.discovery.Load()
}

func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// Claims returns a valid claim set for subject that callers may adjust.
func (s *Server) Claims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                s.Issuer,
		"sub":                subject,
		"aud":                "gate-client",
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"preferred_username": subject,
		"email":              subject + "@example.com",
		"scope":              "openid profile email",
	}
}

// Token signs claims with the server key, setting kid in the header.
func (s *Server) Token(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return s.sign(t, claims, s.Key, KeyID)
}

// TokenWithKey signs claims with an arbitrary key and kid.
func (s *Server) TokenWithKey(t testing.TB, claims jwt.MapClaims, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	return s.sign(t, claims, key, kid)
}

func (s *Server) sign(t testing.TB, claims jwt.MapClaims, key *rsa.PrivateKey, kid string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.discovery.Add(1)
	base := s.Issuer + "/protocol/openid-connect"
	writeJSON(w, map[string]any{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"end_session_endpoint":                  base + "/logout",
		"jwks_uri":                              base + "/certs",
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"grant_types_supported":                 []string{"authorization_code", "implicit", "password", "client_credentials"},
	})
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.Key.PublicKey,
			KeyID:     KeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "UP"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
