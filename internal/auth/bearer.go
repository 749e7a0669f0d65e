package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/authz"
	"github.com/savaki/oidc-gate/internal/discovery"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
	"github.com/savaki/oidc-gate/internal/metrics"
)

// BearerAuth validates OpenID Connect ID tokens presented as bearer
// credentials against the auth server's published discovery document.
type BearerAuth struct {
	openIDConnectURL string
	issuer           string
	clientID         string
	scopes           []string
	grantTypes       []GrantType
	flows            Flows
	discoverer       *discovery.Discoverer
	authorizer       *authz.Authorizer
	recorder         *metrics.Recorder
	now              func() time.Time
	noop             bool
}

type BearerAuthInput struct {
	// OpenIDConnectURL is the "well known" configuration URL, e.g.
	// http://keycloak:8080/realms/demo/.well-known/openid-configuration
	OpenIDConnectURL string
	// Issuer, when set, must match the iss claim.
	Issuer string
	// ClientID, when set, must appear in the aud claim.
	ClientID string
	// Scopes are required on every authenticated request.
	Scopes     []string
	GrantTypes []GrantType
	Discoverer *discovery.Discoverer
	Authorizer *authz.Authorizer
	Metrics    *metrics.Recorder
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// NewBearerAuth configures bearer validation. The auth server is contacted
// once to build the advertised OAuth flows; if it cannot be reached the
// flows are left empty and validation still works once it comes up.
func NewBearerAuth(ctx context.Context, input BearerAuthInput) (*BearerAuth, error) {
	logger := zerolog.Ctx(ctx)

	if input.OpenIDConnectURL == "" {
		return nil, gateerrors.ErrOpenIDConnectURLRequired
	}

	grantTypes := input.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = DefaultGrantTypes
	}

	discoverer := input.Discoverer
	if discoverer == nil {
		discoverer = discovery.New(discovery.DefaultCacheTTL, discovery.WithMetrics(input.Metrics))
	}

	a := &BearerAuth{
		openIDConnectURL: input.OpenIDConnectURL,
		issuer:           input.Issuer,
		clientID:         input.ClientID,
		scopes:           input.Scopes,
		grantTypes:       grantTypes,
		discoverer:       discoverer,
		authorizer:       input.Authorizer,
		recorder:         input.Metrics,
		now:              input.Now,
	}

	doc, err := discoverer.AuthServer(ctx, input.OpenIDConnectURL)
	if err != nil {
		logger.Warn().Err(err).Str("openid_connect_url", input.OpenIDConnectURL).Msg("Could not discover OIDC flows")
	} else {
		a.flows = NewFlows(doc, grantTypes)
	}

	logger.Info().
		Str("openid_connect_url", input.OpenIDConnectURL).
		Bool("verify_issuer", input.Issuer != "").
		Bool("verify_audience", input.ClientID != "").
		Strs("scopes", input.Scopes).
		Msg("Bearer authentication initialized")

	return a, nil
}

// Flows returns the OAuth flows advertised for the configured grant types.
func (a *BearerAuth) Flows() Flows {
	return a.flows
}

// Authenticate validates the Authorization header value. scopes are added to
// the configured scopes for this call. When autoError is false a missing or
// non-bearer header yields (nil, nil); a presented but invalid token is
// always an error. Returned errors are *errors.HTTPError.
func (a *BearerAuth) Authenticate(ctx context.Context, header string, scopes []string, autoError bool) (*IDToken, error) {
	if a.noop {
		return developerToken(), nil
	}

	raw, ok := bearerCredentials(header)
	if !ok {
		if autoError {
			return nil, gateerrors.Unauthorized("Missing bearer token", gateerrors.ErrMissingBearer)
		}
		return nil, nil
	}

	provider, err := a.discoverer.Provider(ctx, a.openIDConnectURL, a.issuer)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Could not reach auth server")
		if errors.Is(err, gateerrors.ErrAuthServerUnreachable) {
			return nil, gateerrors.Unavailable("Could not reach auth server", err)
		}
		return nil, gateerrors.Unauthorized("Unauthorized: "+err.Error(), err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:          a.clientID,
		SkipClientIDCheck: a.clientID == "",
		SkipIssuerCheck:   a.issuer == "",
		Now:               a.now,
	})

	if err := requireKeyID(raw); err != nil {
		return nil, gateerrors.Unauthorized("Unauthorized: "+err.Error(), err)
	}

	verified, err := verifier.Verify(ctx, raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, gateerrors.Unauthorized("Unauthorized: Signature has expired.", err)
		}
		return nil, gateerrors.Unauthorized("Unauthorized: "+err.Error(), err)
	}

	var token IDToken
	if err := verified.Claims(&token); err != nil {
		return nil, gateerrors.Unauthorized("Unauthorized: "+err.Error(), err)
	}
	if err := verified.Claims(&token.Claims); err != nil {
		return nil, gateerrors.Unauthorized("Unauthorized: "+err.Error(), err)
	}

	if token.Audience.IsList() && len(token.Audience.Values) >= 1 && token.AuthorizedParty == "" {
		return nil, gateerrors.Unauthorized("Unauthorized: "+gateerrors.ErrMissingAZP.Error(), gateerrors.ErrMissingAZP)
	}

	expected := a.expectedScopes(scopes)
	received := token.Scopes()
	for _, scope := range expected {
		if !slices.Contains(received, scope) {
			detail := fmt.Sprintf("Missing scope token, expected %v to be a subset of received %v", expected, received)
			return nil, gateerrors.Unauthorized(detail, gateerrors.ErrMissingScope)
		}
	}

	return &token, nil
}

// signingAlgorithms are the asymmetric algorithms an auth server may sign
// ID tokens with.
var signingAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// requireKeyID rejects tokens whose header does not name the signing key.
func requireKeyID(raw string) error {
	signed, err := jose.ParseSignedCompact(raw, signingAlgorithms)
	if err != nil {
		return err
	}
	for _, signature := range signed.Signatures {
		if signature.Header.KeyID == "" {
			return gateerrors.ErrMissingKeyID
		}
	}
	return nil
}

// Authorize applies the configured policies, returning a 403 HTTPError on
// denial.
func (a *BearerAuth) Authorize(token *IDToken) error {
	if err := a.authorizer.Authorize(token.Profile()); err != nil {
		return gateerrors.Forbidden("Forbidden", err)
	}
	return nil
}

// Ready reports whether the auth server's discovery document can be loaded.
func (a *BearerAuth) Ready(ctx context.Context) error {
	if a.noop {
		return nil
	}
	_, err := a.discoverer.AuthServer(ctx, a.openIDConnectURL)
	return err
}

func (a *BearerAuth) expectedScopes(extra []string) []string {
	expected := make([]string, 0, len(a.scopes)+len(extra))
	for _, scope := range append(slices.Clone(a.scopes), extra...) {
		if scope != "" && !slices.Contains(expected, scope) {
			expected = append(expected, scope)
		}
	}
	return expected
}

func bearerCredentials(header string) (string, bool) {
	scheme, credentials, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	credentials = strings.TrimSpace(credentials)
	return credentials, credentials != ""
}
