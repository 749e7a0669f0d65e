package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
	"gopkg.in/yaml.v3"
)

const defaultSignatureCacheTTL = time.Hour

// Config holds the gate's configuration regardless of where it was loaded from.
type Config struct {
	OpenIDConnectURL     string
	Issuer               string
	ClientID             string
	ClientSecret         string
	ClientSecretName     string
	Scopes               []string
	GrantTypes           []string
	SignatureCacheTTL    time.Duration
	RequiredRealmRoles   []string
	RequiredClientRoles  []string // checked against resource_access of ClientID
	AllowedEmailDomains  []string
	PolicyFile           string
	SessionKeySecretName string
	PublicURL            string
}

// Validate reports configuration the gate cannot start without.
func (c *Config) Validate() error {
	if c.OpenIDConnectURL == "" {
		return gateerrors.ErrOpenIDConnectURLRequired
	}
	return nil
}

// settings maps environment variable names to SSM parameter names.
var settings = []struct {
	env   string
	param string
}{
	{"OPENID_CONNECT_URL", "openid-connect-url"},
	{"OIDC_ISSUER", "issuer"},
	{"OIDC_CLIENT_ID", "client-id"},
	{"OIDC_CLIENT_SECRET", "client-secret"},
	{"OIDC_CLIENT_SECRET_NAME", "client-secret-name"},
	{"OIDC_SCOPES", "scopes"},
	{"OIDC_GRANT_TYPES", "grant-types"},
	{"SIGNATURE_CACHE_TTL", "signature-cache-ttl"},
	{"REQUIRED_REALM_ROLES", "required-realm-roles"},
	{"REQUIRED_CLIENT_ROLES", "required-client-roles"},
	{"ALLOWED_EMAIL_DOMAINS", "allowed-email-domains"},
	{"AUTHZ_POLICY_FILE", "policy-file"},
	{"SESSION_KEY_SECRET_NAME", "session-key-secret-name"},
	{"PUBLIC_URL", "public-url"},
}

// configFrom builds a Config from a lookup keyed by environment variable name.
func configFrom(lookup func(envName string) string) (*Config, error) {
	config := &Config{
		OpenIDConnectURL:     lookup("OPENID_CONNECT_URL"),
		Issuer:               lookup("OIDC_ISSUER"),
		ClientID:             lookup("OIDC_CLIENT_ID"),
		ClientSecret:         lookup("OIDC_CLIENT_SECRET"),
		ClientSecretName:     lookup("OIDC_CLIENT_SECRET_NAME"),
		Scopes:               splitList(lookup("OIDC_SCOPES")),
		GrantTypes:           splitList(lookup("OIDC_GRANT_TYPES")),
		RequiredRealmRoles:   splitList(lookup("REQUIRED_REALM_ROLES")),
		RequiredClientRoles:  splitList(lookup("REQUIRED_CLIENT_ROLES")),
		AllowedEmailDomains:  splitList(lookup("ALLOWED_EMAIL_DOMAINS")),
		PolicyFile:           lookup("AUTHZ_POLICY_FILE"),
		SessionKeySecretName: lookup("SESSION_KEY_SECRET_NAME"),
		PublicURL:            lookup("PUBLIC_URL"),
	}

	ttl, err := parseTTL(lookup("SIGNATURE_CACHE_TTL"))
	if err != nil {
		return nil, err
	}
	config.SignatureCacheTTL = ttl

	return config, nil
}

// parseTTL accepts whole seconds ("3600") or a Go duration ("1h"). Empty,
// zero and negative values mean the one hour default.
func parseTTL(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultSignatureCacheTTL, nil
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if d, err = time.ParseDuration(value); err != nil {
		return 0, fmt.Errorf("invalid signature cache ttl %q: %w", value, err)
	}

	if d <= 0 {
		return defaultSignatureCacheTTL, nil
	}
	return d, nil
}

// splitList splits on commas and whitespace.
func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all application configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMAPI is the subset of the SSM client the parameter store uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store.
// Parameters live under /<env>/oidc-gate/.
type SSMParameterStore struct {
	client SSMAPI
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

func (s *SSMParameterStore) path() string {
	return fmt.Sprintf("/%s/oidc-gate", s.env)
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all application configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := s.path()

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	byEnv := make(map[string]string, len(settings))
	for _, setting := range settings {
		byEnv[setting.env] = params[path+"/"+setting.param]
	}

	return configFrom(func(envName string) string { return byEnv[envName] })
}

// EnvParameterStore implements ParameterStore using environment variables.
// This is the default for containers, where docker compose injects settings.
type EnvParameterStore struct {
	lookup func(string) string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore() *EnvParameterStore {
	return &EnvParameterStore{lookup: os.Getenv}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return e.lookup(name), nil
}

// GetConfig loads all application configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	return configFrom(e.lookup)
}

// fileConfig is the YAML layout of a configuration file.
type fileConfig struct {
	OpenIDConnectURL     string   `yaml:"openid_connect_url"`
	Issuer               string   `yaml:"issuer"`
	ClientID             string   `yaml:"client_id"`
	ClientSecret         string   `yaml:"client_secret"`
	ClientSecretName     string   `yaml:"client_secret_name"`
	Scopes               []string `yaml:"scopes"`
	GrantTypes           []string `yaml:"grant_types"`
	SignatureCacheTTL    string   `yaml:"signature_cache_ttl"`
	RequiredRealmRoles   []string `yaml:"required_realm_roles"`
	RequiredClientRoles  []string `yaml:"required_client_roles"`
	AllowedEmailDomains  []string `yaml:"allowed_email_domains"`
	PolicyFile           string   `yaml:"policy_file"`
	SessionKeySecretName string   `yaml:"session_key_secret_name"`
	PublicURL            string   `yaml:"public_url"`
}

// FileParameterStore implements ParameterStore using a YAML file. Values in
// the file may reference environment variables as ${NAME}.
type FileParameterStore struct {
	path string
}

func NewFileParameterStore(path string) *FileParameterStore {
	return &FileParameterStore{path: path}
}

func (f *FileParameterStore) read() (*fileConfig, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", f.path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", f.path, err)
	}
	return &fc, nil
}

// GetParameter returns a top-level key from the file.
func (f *FileParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", f.path, err)
	}

	var values map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &values); err != nil {
		return "", fmt.Errorf("failed to parse config file %s: %w", f.path, err)
	}

	value, ok := values[name]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", name)
	}
	return fmt.Sprint(value), nil
}

func (f *FileParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	fc, err := f.read()
	if err != nil {
		return nil, err
	}

	ttl, err := parseTTL(fc.SignatureCacheTTL)
	if err != nil {
		return nil, err
	}

	return &Config{
		OpenIDConnectURL:     fc.OpenIDConnectURL,
		Issuer:               fc.Issuer,
		ClientID:             fc.ClientID,
		ClientSecret:         fc.ClientSecret,
		ClientSecretName:     fc.ClientSecretName,
		Scopes:               fc.Scopes,
		GrantTypes:           fc.GrantTypes,
		SignatureCacheTTL:    ttl,
		RequiredRealmRoles:   fc.RequiredRealmRoles,
		RequiredClientRoles:  fc.RequiredClientRoles,
		AllowedEmailDomains:  fc.AllowedEmailDomains,
		PolicyFile:           fc.PolicyFile,
		SessionKeySecretName: fc.SessionKeySecretName,
		PublicURL:            fc.PublicURL,
	}, nil
}

func boolPtr(b bool) *bool {
	return &b
}
