package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	"github.com/savaki/oidc-gate/internal/discovery"
	"github.com/urfave/cli/v2"
)

// DiscoverCommand prints an identity server's discovery document together with
// the OAuth flows the gate would advertise for it.
func DiscoverCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Fetch and print an OpenID Connect discovery document",
		Description: `Examples:
  oidc-gate discover --openid-connect-url http://localhost:8080/realms/demo/.well-known/openid-configuration
  oidc-gate discover --grant-types authorization_code,password`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "openid-connect-url",
				Usage:    "Discovery (well known configuration) URL",
				Required: true,
				EnvVars:  []string{"OPENID_CONNECT_URL"},
			},
			&cli.StringSliceFlag{
				Name:    "grant-types",
				Usage:   "Grant types to build flows for",
				EnvVars: []string{"OIDC_GRANT_TYPES"},
			},
		},
		Action: func(c *cli.Context) error {
			grantTypes, err := auth.ParseGrantTypes(c.StringSlice("grant-types"))
			if err != nil {
				return err
			}

			discoverer := discovery.New(discovery.DefaultCacheTTL)
			doc, err := discoverer.AuthServer(logger.WithContext(c.Context), c.String("openid-connect-url"))
			if err != nil {
				return fmt.Errorf("failed to discover auth server: %w", err)
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"document":        doc,
				"signing_algs":    doc.SigningAlgs(),
				"securitySchemes": auth.NewFlows(doc, grantTypes).SecurityScheme(),
			})
		},
	}
}
