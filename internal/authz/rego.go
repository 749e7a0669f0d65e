package authz

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed default.rego
var defaultPolicy string

const regoQuery = "data.gate.authz.allow"

// RegoPolicy evaluates an Open Policy Agent module against the token claims.
// The module must define data.gate.authz.allow; input is
// {"claims": ..., "realm_roles": [...], "scopes": [...]}.
type RegoPolicy struct {
	prepared rego.PreparedEvalQuery
}

// NewRegoPolicy prepares module for evaluation. An empty module selects the
// embedded default, which allows any authenticated subject.
func NewRegoPolicy(ctx context.Context, module string) (*RegoPolicy, error) {
	if module == "" {
		module = defaultPolicy
	}

	prepared, err := rego.New(
		rego.Query(regoQuery),
		rego.Module("gate.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	return &RegoPolicy{prepared: prepared}, nil
}

// LoadRegoPolicy reads a policy module from path.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewRegoPolicy(ctx, string(data))
}

func (p *RegoPolicy) Name() string {
	return "Rego"
}

func (p *RegoPolicy) Authorize(profile Profile) error {
	claims := profile.Claims
	if claims == nil {
		claims = map[string]any{"sub": profile.Sub}
	}

	input := map[string]any{
		"claims":      claims,
		"realm_roles": toAny(profile.RealmRoles),
		"scopes":      toAny(profile.Scopes),
	}

	results, err := p.prepared.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return fmt.Errorf("access denied: policy returned no result for %s", profile.Sub)
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok || !allowed {
		return fmt.Errorf("access denied: policy rejected %s", profile.Sub)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
