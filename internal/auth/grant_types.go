package auth

import (
	"fmt"
	"strings"

	"github.com/savaki/oidc-gate/internal/discovery"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
)

// GrantType is an OAuth 2.0 grant a client may use against the auth server.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantImplicit          GrantType = "implicit"
)

// DefaultGrantTypes is used when none are configured.
var DefaultGrantTypes = []GrantType{GrantImplicit}

// ParseGrantTypes converts configuration strings, ignoring blanks.
func ParseGrantTypes(values []string) ([]GrantType, error) {
	var grantTypes []GrantType
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		switch GrantType(v) {
		case "":
			continue
		case GrantAuthorizationCode, GrantClientCredentials, GrantPassword, GrantImplicit:
			grantTypes = append(grantTypes, GrantType(v))
		default:
			return nil, fmt.Errorf("%w: %s", gateerrors.ErrUnknownGrantType, v)
		}
	}
	if len(grantTypes) == 0 {
		return DefaultGrantTypes, nil
	}
	return grantTypes, nil
}

// Flow is one OpenAPI OAuth flow object.
type Flow struct {
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	Scopes           map[string]string `json:"scopes"`
}

// Flows is the OpenAPI OAuth flows object advertised to API clients.
type Flows struct {
	AuthorizationCode *Flow `json:"authorizationCode,omitempty"`
	ClientCredentials *Flow `json:"clientCredentials,omitempty"`
	Password          *Flow `json:"password,omitempty"`
	Implicit          *Flow `json:"implicit,omitempty"`
}

// Empty reports whether no flow is configured.
func (f Flows) Empty() bool {
	return f.AuthorizationCode == nil && f.ClientCredentials == nil && f.Password == nil && f.Implicit == nil
}

// SecurityScheme wraps flows in an OpenAPI security scheme named OIDC.
func (f Flows) SecurityScheme() map[string]any {
	return map[string]any{
		"OIDC": map[string]any{
			"type":  "oauth2",
			"flows": f,
		},
	}
}

// NewFlows builds the flows for grantTypes from a discovery document.
func NewFlows(doc *discovery.Document, grantTypes []GrantType) Flows {
	var flows Flows
	for _, grantType := range grantTypes {
		switch grantType {
		case GrantAuthorizationCode:
			flows.AuthorizationCode = &Flow{
				AuthorizationURL: doc.AuthorizationURL(),
				TokenURL:         doc.TokenURL(),
				Scopes:           map[string]string{},
			}
		case GrantClientCredentials:
			flows.ClientCredentials = &Flow{TokenURL: doc.TokenURL(), Scopes: map[string]string{}}
		case GrantPassword:
			flows.Password = &Flow{TokenURL: doc.TokenURL(), Scopes: map[string]string{}}
		case GrantImplicit:
			flows.Implicit = &Flow{AuthorizationURL: doc.AuthorizationURL(), Scopes: map[string]string{}}
		}
	}
	return flows
}
