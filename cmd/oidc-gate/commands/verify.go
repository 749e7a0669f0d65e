package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/auth"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
	"github.com/urfave/cli/v2"
)

// VerifyCommand validates a token with the configured gate settings and
// prints its claims.
func VerifyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Validate an ID token and print its claims",
		ArgsUsage: "<token>",
		Description: `Validates the token exactly as the server's bearer middleware would, using
configuration from the environment, --config or SSM.

Examples:
  OPENID_CONNECT_URL=http://localhost:8080/realms/demo/.well-known/openid-configuration \
    oidc-gate verify --scope profile "$TOKEN"`,
		Flags: append(configFlags(),
			&cli.StringSliceFlag{
				Name:  "scope",
				Usage: "Additional scope the token must carry",
			},
			&cli.BoolFlag{
				Name:  "authorize",
				Usage: "Also apply the configured authorization policies",
			},
		),
		Action: func(c *cli.Context) error {
			token := c.Args().First()
			if token == "" {
				return cli.Exit("token argument is required", 2)
			}

			container, err := setupContainer(containerInputFrom(c))
			if err != nil {
				return fmt.Errorf("failed to setup DI container: %w", err)
			}

			var bearerAuth *auth.BearerAuth
			if err := container.Invoke(func(a *auth.BearerAuth) { bearerAuth = a }); err != nil {
				return err
			}

			ctx := logger.WithContext(c.Context)
			idToken, err := bearerAuth.Authenticate(ctx, "Bearer "+token, c.StringSlice("scope"), true)
			if err == nil && c.Bool("authorize") {
				err = bearerAuth.Authorize(idToken)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("%d %s", gateerrors.StatusOf(err), gateerrors.DetailOf(err)), 1)
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(idToken.Claims)
		},
	}
}
