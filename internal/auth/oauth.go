package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/authz"
	"github.com/savaki/oidc-gate/internal/discovery"
	"golang.org/x/oauth2"
)

const (
	sessionName = "gate-session"
	stateKey    = "state"
	profileKey  = "profile" // stores full profile JSON
	idTokenKey  = "id_token"
)

// SessionAuth runs the authorization code login for browser users and keeps
// the resulting profile in an encrypted cookie session.
type SessionAuth struct {
	provider      *oidc.Provider
	oauth2Config  oauth2.Config
	sessionStore  *sessions.CookieStore
	callbackURL   string
	endSessionURL string
	authorizer    *authz.Authorizer // optional authorization policy enforcement
}

// Profile is the slice of the ID token kept in the session.
type Profile struct {
	Sub               string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

type SessionAuthInput struct {
	OpenIDConnectURL string
	Issuer           string
	ClientID         string
	ClientSecret     string
	CallbackURL      string
	Discoverer       *discovery.Discoverer
	Authorizer       *authz.Authorizer
	SessionKeys      [][]byte // hash1, block1, hash2, block2, ... newest pair first
	IsLocalDev       bool     // Set to true for local development (disables Secure cookie flag)
}

func NewSessionAuth(ctx context.Context, input SessionAuthInput) (*SessionAuth, error) {
	logger := zerolog.Ctx(ctx)

	discoverer := input.Discoverer
	if discoverer == nil {
		discoverer = discovery.New(discovery.DefaultCacheTTL)
	}

	doc, err := discoverer.AuthServer(ctx, input.OpenIDConnectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", input.OpenIDConnectURL, err)
	}

	provider, err := discoverer.Provider(ctx, input.OpenIDConnectURL, input.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider for %s: %w", input.OpenIDConnectURL, err)
	}

	endpoint := provider.Endpoint()
	logger.Info().
		Str("auth_url", endpoint.AuthURL).
		Str("token_url", endpoint.TokenURL).
		Msg("OAuth endpoints configured")

	oauth2Config := oauth2.Config{
		ClientID:     input.ClientID,
		ClientSecret: input.ClientSecret,
		RedirectURL:  input.CallbackURL,
		Endpoint:     endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	sessionKeys := input.SessionKeys
	if len(sessionKeys) == 0 {
		logger.Warn().Msg("No session keys provided, generating ephemeral cookie keys")
		sessionKeys = [][]byte{
			securecookie.GenerateRandomKey(64),
			securecookie.GenerateRandomKey(32),
		}
		if sessionKeys[0] == nil || sessionKeys[1] == nil {
			return nil, fmt.Errorf("failed to generate ephemeral cookie keys")
		}
	}
	if err := checkCookieKeyPairs(sessionKeys); err != nil {
		return nil, err
	}

	// keys are hash/block pairs; the first pair encodes and every pair is tried on decode
	sessionStore := sessions.NewCookieStore(sessionKeys...)

	// Secure cookies are dropped by browsers on plain http://localhost
	isSecure := !input.IsLocalDev

	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	}

	logger.Info().
		Int("session_key_pairs", len(sessionKeys)/2).
		Bool("secure_cookies", isSecure).
		Bool("has_end_session", doc.EndSessionEndpoint != "").
		Msg("Session authenticator initialized")

	return &SessionAuth{
		provider:      provider,
		oauth2Config:  oauth2Config,
		sessionStore:  sessionStore,
		callbackURL:   input.CallbackURL,
		endSessionURL: doc.EndSessionEndpoint,
		authorizer:    input.Authorizer,
	}, nil
}

// checkCookieKeyPairs rejects key lists that would leave a cookie codec
// without an encryption key.
func checkCookieKeyPairs(keys [][]byte) error {
	if len(keys)%2 != 0 {
		return fmt.Errorf("session keys must be hash/block pairs, got %d keys", len(keys))
	}
	for i := 1; i < len(keys); i += 2 {
		switch len(keys[i]) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("session block key %d is %d bytes, want 16, 24 or 32", i/2, len(keys[i]))
		}
	}
	return nil
}

// generateState creates a random state value for CSRF protection
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin redirects to the auth server's authorization endpoint.
func (a *SessionAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		logger.Info().Msg("Login not required in NoOp auth mode, redirecting to home")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	state, err := generateState()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Get returns a fresh session when the cookie cannot be decoded; it is
	// overwritten below either way.
	session, _ := a.sessionStore.Get(r, sessionName)
	session.Values[stateKey] = state
	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	authURL := a.oauth2Config.AuthCodeURL(state)
	logger.Info().
		Str("auth_url", authURL).
		Bool("session_is_new", session.IsNew).
		Msg("Redirecting to auth server for login")
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback handles the authorization code callback.
func (a *SessionAuth) HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		logger.Info().Msg("OAuth callback not used in NoOp auth mode, redirecting to home")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	session, err := a.sessionStore.Get(r, sessionName)
	if err != nil {
		logger.Warn().
			Str("error", err.Error()).
			Msg("Session cookie error in callback, redirecting to login")
		http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
		return
	}

	storedState, ok := session.Values[stateKey].(string)
	if !ok || storedState == "" {
		logger.Error().Int("session_values_count", len(session.Values)).Msg("State not found in session")
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("state") != storedState {
		logger.Error().Msg("State mismatch")
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		logger.Error().Msg("Code not found in callback")
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), code)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to exchange code for token")
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		logger.Error().Msg("No id_token in token response")
		http.Error(w, "No id_token", http.StatusInternalServerError)
		return
	}

	verifier := a.provider.Verifier(&oidc.Config{ClientID: a.oauth2Config.ClientID})
	verified, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		logger.Error().
			Err(err).
			Str("client_id", a.oauth2Config.ClientID).
			Msg("Failed to verify ID token")
		http.Error(w, "Failed to verify token", http.StatusInternalServerError)
		return
	}

	var idToken IDToken
	if err := verified.Claims(&idToken); err != nil {
		logger.Error().Err(err).Msg("Failed to extract claims")
		http.Error(w, "Failed to extract profile", http.StatusInternalServerError)
		return
	}
	_ = verified.Claims(&idToken.Claims)

	if err := a.authorizer.Authorize(idToken.Profile()); err != nil {
		logger.Warn().
			Str("sub", idToken.Subject).
			Str("email", idToken.Email).
			Err(err).
			Msg("User authorization failed")
		http.Error(w, fmt.Sprintf("Access denied: %v", err), http.StatusForbidden)
		return
	}

	profileJSON, err := json.Marshal(Profile{
		Sub:               idToken.Subject,
		Name:              idToken.Name,
		PreferredUsername: idToken.PreferredUsername,
		Email:             idToken.Email,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal profile")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	session.Values[profileKey] = string(profileJSON)
	session.Values[idTokenKey] = rawIDToken
	delete(session.Values, stateKey)

	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("sub", idToken.Subject).Msg("User authenticated successfully")
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleLogout clears the session and, when the auth server publishes an
// end_session_endpoint, ends the server-side session too.
func (a *SessionAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if a.IsNoOp() {
		logger.Info().Msg("Logout not required in NoOp auth mode, redirecting to home")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	session, _ := a.sessionStore.Get(r, sessionName)
	idTokenHint, _ := session.Values[idTokenKey].(string)

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to clear session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logoutURL, err := a.logoutURL(idTokenHint)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse callback URL")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("logout_url", logoutURL).Msg("Logging out user")
	http.Redirect(w, r, logoutURL, http.StatusTemporaryRedirect)
}

// logoutURL builds the RP-initiated logout URL, or the application root when
// the auth server has no end_session_endpoint.
func (a *SessionAuth) logoutURL(idTokenHint string) (string, error) {
	callbackURL, err := url.Parse(a.callbackURL)
	if err != nil {
		return "", err
	}
	returnTo := fmt.Sprintf("%s://%s/", callbackURL.Scheme, callbackURL.Host)

	if a.endSessionURL == "" {
		return returnTo, nil
	}

	params := url.Values{}
	params.Add("client_id", a.oauth2Config.ClientID)
	params.Add("post_logout_redirect_uri", returnTo)
	if idTokenHint != "" {
		params.Add("id_token_hint", idTokenHint)
	}
	return fmt.Sprintf("%s?%s", a.endSessionURL, params.Encode()), nil
}
