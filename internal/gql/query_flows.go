package gql

import "github.com/savaki/oidc-gate/internal/auth"

// Flows resolves the flows query in a fixed grant type order.
func (r *Resolver) Flows() []*FlowResolver {
	flows := r.bearerAuth.Flows()

	var resolvers []*FlowResolver
	add := func(grantType auth.GrantType, flow *auth.Flow) {
		if flow != nil {
			resolvers = append(resolvers, &FlowResolver{grantType: grantType, flow: flow})
		}
	}
	add(auth.GrantAuthorizationCode, flows.AuthorizationCode)
	add(auth.GrantClientCredentials, flows.ClientCredentials)
	add(auth.GrantPassword, flows.Password)
	add(auth.GrantImplicit, flows.Implicit)

	if resolvers == nil {
		return []*FlowResolver{}
	}
	return resolvers
}

// FlowResolver resolves the Flow GraphQL type
type FlowResolver struct {
	grantType auth.GrantType
	flow      *auth.Flow
}

func (r *FlowResolver) GrantType() string {
	return string(r.grantType)
}

func (r *FlowResolver) AuthorizationURL() *string {
	return optional(r.flow.AuthorizationURL)
}

func (r *FlowResolver) TokenURL() *string {
	return optional(r.flow.TokenURL)
}
