package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/savaki/oidc-gate/internal/authz"
)

// Audience is the "aud" claim. It accepts a single string or a list and
// remembers which form it arrived in.
type Audience struct {
	Values []string
	list   bool
}

func (a *Audience) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		a.list = true
		return json.Unmarshal(data, &a.Values)
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("aud must be a string or list of strings: %w", err)
	}
	a.list = false
	a.Values = []string{single}
	return nil
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if !a.list && len(a.Values) == 1 {
		return json.Marshal(a.Values[0])
	}
	if a.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Values)
}

// IsList reports whether the claim was a JSON array.
func (a Audience) IsList() bool { return a.list }

func (a Audience) Contains(v string) bool {
	return slices.Contains(a.Values, v)
}

// Access holds the roles Keycloak grants in realm_access and resource_access.
type Access struct {
	Roles []string `json:"roles,omitempty"`
}

// IDToken is a verified OpenID Connect ID token. Standard claims come first;
// the rest are the profile claims Keycloak and Okta commonly add.
type IDToken struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience Audience `json:"aud"`

	// NumericDate accepts fractional seconds
	Expiry   *jwt.NumericDate `json:"exp"`
	IssuedAt *jwt.NumericDate `json:"iat"`
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	Nonce           string   `json:"nonce,omitempty"`
	ACR             string   `json:"acr,omitempty"`
	AMR             []string `json:"amr,omitempty"`
	AuthorizedParty string   `json:"azp,omitempty"`
	Scope           string   `json:"scope,omitempty"`

	PreferredUsername string            `json:"preferred_username,omitempty"`
	Name              string            `json:"name,omitempty"`
	GivenName         string            `json:"given_name,omitempty"`
	FamilyName        string            `json:"family_name,omitempty"`
	Email             string            `json:"email,omitempty"`
	EmailVerified     bool              `json:"email_verified,omitempty"`
	Groups            []string          `json:"groups,omitempty"`
	RealmAccess       Access            `json:"realm_access"`
	ResourceAccess    map[string]Access `json:"resource_access,omitempty"`

	// Claims holds every claim in the token, including unknown ones.
	Claims map[string]any `json:"-"`
}

// Scopes splits the space-separated scope claim.
func (t *IDToken) Scopes() []string {
	return strings.Fields(t.Scope)
}

// DisplayName picks the friendliest available name for greetings.
func (t *IDToken) DisplayName() string {
	switch {
	case t.PreferredUsername != "":
		return t.PreferredUsername
	case t.Name != "":
		return t.Name
	case t.Email != "":
		return t.Email
	default:
		return t.Subject
	}
}

// Profile converts the token into the authz view of the user.
func (t *IDToken) Profile() authz.Profile {
	clientRoles := make(map[string][]string, len(t.ResourceAccess))
	for client, access := range t.ResourceAccess {
		clientRoles[client] = access.Roles
	}
	return authz.Profile{
		Sub:         t.Subject,
		Username:    t.PreferredUsername,
		Email:       t.Email,
		RealmRoles:  t.RealmAccess.Roles,
		ClientRoles: clientRoles,
		Scopes:      t.Scopes(),
		Claims:      t.Claims,
	}
}
