package authz

import (
	"fmt"
	"slices"
	"strings"
)

// Profile represents user information needed for authorization.
// It is filled from verified ID token claims but keeps packages decoupled.
type Profile struct {
	Sub         string
	Username    string
	Email       string
	RealmRoles  []string
	ClientRoles map[string][]string
	Scopes      []string
	Claims      map[string]any // raw claims, handed to rego policies as input
}

// Policy defines an authorization rule that can allow or deny access.
type Policy interface {
	// Authorize returns nil if the user is authorized, or an error if denied.
	Authorize(profile Profile) error
	// Name returns a human-readable name for this policy.
	Name() string
}

// RealmRolePolicy requires every listed Keycloak realm role.
type RealmRolePolicy struct {
	Roles []string
}

func (p *RealmRolePolicy) Name() string {
	return "RealmRoles"
}

func (p *RealmRolePolicy) Authorize(profile Profile) error {
	for _, role := range p.Roles {
		if !slices.Contains(profile.RealmRoles, role) {
			return fmt.Errorf("access denied: %s lacks realm role %s", profile.Sub, role)
		}
	}
	return nil
}

// ClientRolePolicy requires every listed role on one client in
// resource_access.
type ClientRolePolicy struct {
	ClientID string
	Roles    []string
}

func (p *ClientRolePolicy) Name() string {
	return "ClientRoles"
}

func (p *ClientRolePolicy) Authorize(profile Profile) error {
	granted := profile.ClientRoles[p.ClientID]
	for _, role := range p.Roles {
		if !slices.Contains(granted, role) {
			return fmt.Errorf("access denied: %s lacks role %s on client %s", profile.Sub, role, p.ClientID)
		}
	}
	return nil
}

// EmailDomainPolicy restricts access to users whose email belongs to one of
// the allowed domains. Matching is case-insensitive.
type EmailDomainPolicy struct {
	Domains []string
}

func (p *EmailDomainPolicy) Name() string {
	return "EmailDomain"
}

func (p *EmailDomainPolicy) Authorize(profile Profile) error {
	_, domain, ok := strings.Cut(profile.Email, "@")
	if !ok {
		return fmt.Errorf("access denied: %s has no usable email", profile.Sub)
	}
	for _, allowed := range p.Domains {
		if strings.EqualFold(domain, allowed) {
			return nil
		}
	}
	return fmt.Errorf("access denied: email %s is not authorized", profile.Email)
}

// Authorizer manages a collection of authorization policies.
type Authorizer struct {
	policies []Policy
	enabled  bool
}

// NewAuthorizer creates a new authorizer with the given policies.
func NewAuthorizer(enabled bool, policies ...Policy) *Authorizer {
	return &Authorizer{
		policies: policies,
		enabled:  enabled,
	}
}

// Enabled reports whether any policy will be enforced. A nil Authorizer is
// disabled.
func (a *Authorizer) Enabled() bool {
	return a != nil && a.enabled && len(a.policies) > 0
}

// Authorize runs all policies and returns an error if any policy denies access.
func (a *Authorizer) Authorize(profile Profile) error {
	if !a.Enabled() {
		return nil
	}

	for _, policy := range a.policies {
		if err := policy.Authorize(profile); err != nil {
			return fmt.Errorf("authorization policy %s failed: %w", policy.Name(), err)
		}
	}
	return nil
}
