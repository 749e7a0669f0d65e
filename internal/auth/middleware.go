package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
)

type contextKey int

const (
	tokenContextKey contextKey = iota
	profileContextKey
)

// ErrorResponse is the JSON body written on authentication failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// WithToken stores a verified token in ctx.
func WithToken(ctx context.Context, token *IDToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the token stored by Required or Optional.
func TokenFromContext(ctx context.Context) (*IDToken, bool) {
	token, ok := ctx.Value(tokenContextKey).(*IDToken)
	return token, ok && token != nil
}

// ProfileFromContext returns the session profile stored by RequireSession.
func ProfileFromContext(ctx context.Context) (*Profile, bool) {
	profile, ok := ctx.Value(profileContextKey).(*Profile)
	return profile, ok && profile != nil
}

// Required creates middleware that rejects requests without a valid bearer
// token carrying scopes. The token is available via TokenFromContext.
func (a *BearerAuth) Required(scopes ...string) func(http.Handler) http.Handler {
	return a.middleware("required", scopes, true, false)
}

// Optional creates middleware that lets anonymous requests through but still
// rejects a presented token that fails validation.
func (a *BearerAuth) Optional(scopes ...string) func(http.Handler) http.Handler {
	return a.middleware("optional", scopes, false, false)
}

// Authorized is Required followed by the configured authorization policies.
func (a *BearerAuth) Authorized(scopes ...string) func(http.Handler) http.Handler {
	return a.middleware("authorized", scopes, true, true)
}

func (a *BearerAuth) middleware(mode string, scopes []string, autoError, authorize bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())

			if a.IsNoOp() {
				logger.Debug().
					Str("path", r.URL.Path).
					Msg("⚠️  Authentication BYPASSED (NoOp mode)")
			}

			token, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"), scopes, autoError)
			if err == nil && token != nil && authorize {
				err = a.Authorize(token)
			}
			if err != nil {
				a.recorder.Authentication(mode, outcome(err))
				writeAuthError(w, r, err)
				return
			}

			if token == nil {
				a.recorder.Authentication(mode, "anonymous")
				logger.Debug().Str("path", r.URL.Path).Msg("Anonymous request")
				next.ServeHTTP(w, r)
				return
			}

			a.recorder.Authentication(mode, "ok")
			logger.Debug().
				Str("path", r.URL.Path).
				Str("sub", token.Subject).
				Str("username", token.PreferredUsername).
				Msg("Authenticated request")

			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
		})
	}
}

func outcome(err error) string {
	switch gateerrors.StatusOf(err) {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// writeAuthError writes err as a JSON detail response.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	status := gateerrors.StatusOf(err)

	logger.Warn().
		Err(err).
		Str("path", r.URL.Path).
		Int("status_code", status).
		Msg("API authentication failed")

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: gateerrors.DetailOf(err)})
}

// RequireSession creates middleware that ensures the browser has a login
// session. If redirectOnFail is true (for document/HTML routes), it redirects
// to /login on failure; otherwise it returns a 403 JSON response.
func (a *SessionAuth) RequireSession(redirectOnFail bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())

			if a.IsNoOp() {
				logger.Debug().
					Str("path", r.URL.Path).
					Msg("⚠️  Authentication BYPASSED (NoOp mode)")
				profile := &Profile{Sub: "developer", PreferredUsername: "developer"}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileContextKey, profile)))
				return
			}

			session, err := a.sessionStore.Get(r, sessionName)
			if err != nil {
				// securecookie errors are expected for rotated keys or tampered cookies
				logger.Debug().
					Str("path", r.URL.Path).
					Str("error", err.Error()).
					Msg("Invalid or expired session cookie")
				a.handleAuthFailure(w, r, redirectOnFail, "Session expired or invalid")
				return
			}

			profileJSON, ok := session.Values[profileKey].(string)
			if !ok || profileJSON == "" {
				logger.Debug().Str("path", r.URL.Path).Msg("No profile in session")
				a.handleAuthFailure(w, r, redirectOnFail, "Unauthorized")
				return
			}

			var profile Profile
			if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
				logger.Error().Err(err).Msg("Failed to parse profile from session")
				a.handleAuthFailure(w, r, redirectOnFail, "Invalid session data")
				return
			}

			logger.Debug().
				Str("path", r.URL.Path).
				Str("email", profile.Email).
				Str("sub", profile.Sub).
				Msg("Authenticated session")

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileContextKey, &profile)))
		})
	}
}

// handleAuthFailure handles authentication failures based on the request type
func (a *SessionAuth) handleAuthFailure(w http.ResponseWriter, r *http.Request, redirectOnFail bool, message string) {
	logger := zerolog.Ctx(r.Context())

	if redirectOnFail {
		logger.Info().
			Str("path", r.URL.Path).
			Str("reason", message).
			Msg("Redirecting to login")
		http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
		return
	}

	logger.Warn().
		Str("path", r.URL.Path).
		Str("reason", message).
		Msg("Session authentication failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: message})
}
