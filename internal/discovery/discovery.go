// Package discovery fetches and caches OpenID Connect provider metadata
// ("well known" configuration documents) and the providers built from them.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
	"github.com/savaki/oidc-gate/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long documents and signing keys are reused before
// the auth server is asked again.
const DefaultCacheTTL = time.Hour

const cacheSize = 32

// Document is the subset of the discovery document the gate relies on.
type Document struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
	SigningAlgValues      []string `json:"id_token_signing_alg_values_supported,omitempty"`
	GrantTypesSupported   []string `json:"grant_types_supported,omitempty"`
}

func (d *Document) AuthorizationURL() string { return d.AuthorizationEndpoint }
func (d *Document) TokenURL() string         { return d.TokenEndpoint }
func (d *Document) PublicKeysURL() string    { return d.JWKSURI }
func (d *Document) SupportedScopes() []string {
	return d.ScopesSupported
}

// SigningAlgs returns the algorithms ID tokens may be signed with, RS256 when
// the server does not say.
func (d *Document) SigningAlgs() []string {
	if len(d.SigningAlgValues) == 0 {
		return []string{oidc.RS256}
	}
	return d.SigningAlgValues
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithHTTPClient sets the client used for discovery and key fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Discoverer) {
		if client != nil {
			d.client = client
		}
	}
}

// WithMetrics records fetch outcomes.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(d *Discoverer) {
		d.recorder = recorder
	}
}

// Discoverer caches discovery documents and go-oidc providers per URL.
// It is safe for concurrent use.
type Discoverer struct {
	client    *http.Client
	recorder  *metrics.Recorder
	documents *expirable.LRU[string, *Document]
	providers *expirable.LRU[string, *oidc.Provider]
	group     singleflight.Group
}

// New returns a Discoverer whose entries live for cacheTTL.
func New(cacheTTL time.Duration, opts ...Option) *Discoverer {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	d := &Discoverer{
		client:    &http.Client{Timeout: 10 * time.Second},
		documents: expirable.NewLRU[string, *Document](cacheSize, nil, cacheTTL),
		providers: expirable.NewLRU[string, *oidc.Provider](cacheSize, nil, cacheTTL),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AuthServer returns the discovery document published at openIDConnectURL.
func (d *Discoverer) AuthServer(ctx context.Context, openIDConnectURL string) (*Document, error) {
	if doc, ok := d.documents.Get(openIDConnectURL); ok {
		return doc, nil
	}

	// callers share one fetch, so it outlives any single caller's cancellation;
	// the client timeout still bounds it
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := d.group.Do(openIDConnectURL, func() (any, error) {
		doc, err := d.fetch(fetchCtx, openIDConnectURL)
		d.recorder.Discovery(err == nil)
		if err != nil {
			return nil, err
		}
		d.documents.Add(openIDConnectURL, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// Provider returns a go-oidc provider for the document at openIDConnectURL.
// issuer overrides the document's issuer when non-empty. The provider's
// remote key set lives as long as the cached entry.
func (d *Discoverer) Provider(ctx context.Context, openIDConnectURL, issuer string) (*oidc.Provider, error) {
	key := openIDConnectURL + "|" + issuer
	if p, ok := d.providers.Get(key); ok {
		return p, nil
	}

	doc, err := d.AuthServer(ctx, openIDConnectURL)
	if err != nil {
		return nil, err
	}

	if issuer == "" {
		issuer = doc.Issuer
	}
	config := oidc.ProviderConfig{
		IssuerURL:   issuer,
		AuthURL:     doc.AuthorizationEndpoint,
		TokenURL:    doc.TokenEndpoint,
		UserInfoURL: doc.UserInfoEndpoint,
		JWKSURL:     doc.JWKSURI,
		Algorithms:  doc.SigningAlgs(),
	}
	p := config.NewProvider(oidc.ClientContext(ctx, d.client))
	d.providers.Add(key, p)
	return p, nil
}

// Purge drops every cached document and provider.
func (d *Discoverer) Purge() {
	d.documents.Purge()
	d.providers.Purge()
}

func (d *Discoverer) fetch(ctx context.Context, openIDConnectURL string) (*Document, error) {
	logger := zerolog.Ctx(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openIDConnectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery url %s: %w", openIDConnectURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("url", openIDConnectURL).Msg("Discovery request failed")
		return nil, fmt.Errorf("%w: %v", gateerrors.ErrAuthServerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().Int("status_code", resp.StatusCode).Str("url", openIDConnectURL).Msg("Discovery returned non-2xx")
		return nil, fmt.Errorf("%w: %s returned %d", gateerrors.ErrAuthServerUnreachable, openIDConnectURL, resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document from %s: %w", openIDConnectURL, err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery document at %s has no jwks_uri", gateerrors.ErrBadJWKS, openIDConnectURL)
	}

	logger.Debug().
		Str("issuer", doc.Issuer).
		Str("jwks_uri", doc.JWKSURI).
		Strs("algorithms", doc.SigningAlgs()).
		Msg("Discovery document loaded")

	return &doc, nil
}
