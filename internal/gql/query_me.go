package gql

import (
	"context"

	"github.com/savaki/oidc-gate/internal/auth"
)

// Me resolves the me query from the token the bearer middleware verified.
func (r *Resolver) Me(ctx context.Context) *IdentityResolver {
	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		return nil
	}
	return &IdentityResolver{token: token}
}

// IdentityResolver resolves the Identity GraphQL type
type IdentityResolver struct {
	token *auth.IDToken
}

func (r *IdentityResolver) Subject() string { return r.token.Subject }
func (r *IdentityResolver) Issuer() string  { return r.token.Issuer }

func (r *IdentityResolver) Username() *string {
	return optional(r.token.PreferredUsername)
}

func (r *IdentityResolver) Email() *string {
	return optional(r.token.Email)
}

func (r *IdentityResolver) Audience() []string {
	return nonNil(r.token.Audience.Values)
}

func (r *IdentityResolver) Scopes() []string {
	return nonNil(r.token.Scopes())
}

func (r *IdentityResolver) RealmRoles() []string {
	return nonNil(r.token.RealmAccess.Roles)
}

func (r *IdentityResolver) ExpiresAt() DateTime {
	return NewDateTimeFromNumericDate(r.token.Expiry)
}

func (r *IdentityResolver) AuthTime() *DateTime {
	if r.token.AuthTime == nil {
		return nil
	}
	dt := NewDateTimeFromNumericDate(r.token.AuthTime)
	return &dt
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
