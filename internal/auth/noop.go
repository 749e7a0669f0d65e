package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewNoOpBearerAuth creates a BearerAuth that accepts every request as a
// fixed developer identity. This should ONLY be used for local development.
func NewNoOpBearerAuth() *BearerAuth {
	return &BearerAuth{noop: true}
}

// NewNoOpSessionAuth creates a SessionAuth that bypasses login.
// It returns a SessionAuth with a nil sessionStore as a marker that it's in NoOp mode.
func NewNoOpSessionAuth() *SessionAuth {
	return &SessionAuth{}
}

// IsNoOp returns true if this is a NoOp authenticator
func (a *BearerAuth) IsNoOp() bool {
	return a.noop
}

// IsNoOp returns true if this is a NoOp authenticator
func (a *SessionAuth) IsNoOp() bool {
	return a.sessionStore == nil
}

func developerToken() *IDToken {
	now := time.Now()
	return &IDToken{
		Issuer:            "noop",
		Subject:           "developer",
		Audience:          Audience{Values: []string{"noop"}},
		Expiry:            jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:          jwt.NewNumericDate(now),
		PreferredUsername: "developer",
		Claims:            map[string]any{"sub": "developer"},
	}
}
