package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/di"
	"github.com/savaki/oidc-gate/internal/services"
	"github.com/urfave/cli/v2"
)

func newSessionKeyRotator() (*services.SessionKeyRotator, error) {
	container, err := di.New("", di.WithProviders(di.ProvideSessionKeyRotator))
	if err != nil {
		return nil, fmt.Errorf("failed to setup DI container: %w", err)
	}

	var rotator *services.SessionKeyRotator
	if err := container.Invoke(func(r *services.SessionKeyRotator) { rotator = r }); err != nil {
		return nil, err
	}
	return rotator, nil
}

// RotatorLambdaHandler is the Secrets Manager rotation function for the
// session key secret.
func RotatorLambdaHandler(ctx context.Context) (func(context.Context, services.RotationEvent) error, error) {
	logger := zerolog.Ctx(ctx).With().Str("lambda", "rotator").Logger()

	rotator, err := newSessionKeyRotator()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, event services.RotationEvent) error {
		ctx = logger.WithContext(ctx)
		logger.Info().Str("step", event.Step).Str("secret_id", event.SecretId).Msg("Handling rotation step")
		return rotator.HandleRotation(ctx, event)
	}, nil
}

// SessionKeysCommand manages the Secrets Manager secret holding the
// session cookie keys.
func SessionKeysCommand(logger *zerolog.Logger) *cli.Command {
	secretFlag := &cli.StringFlag{
		Name:     "secret-id",
		Usage:    "Secret holding the session keys",
		Required: true,
		EnvVars:  []string{"SESSION_KEY_SECRET_NAME"},
	}

	return &cli.Command{
		Name:  "session-keys",
		Usage: "Manage session cookie encryption keys in Secrets Manager",
		Subcommands: []*cli.Command{
			{
				Name:  "rotate",
				Usage: "Manually trigger a rotation",
				Flags: []cli.Flag{secretFlag},
				Action: func(c *cli.Context) error {
					rotator, err := newSessionKeyRotator()
					if err != nil {
						return err
					}

					token := fmt.Sprintf("manual-%d", time.Now().Unix())
					if err := rotator.Rotate(logger.WithContext(c.Context), c.String("secret-id"), token); err != nil {
						return err
					}

					logger.Info().Str("secret_id", c.String("secret-id")).Str("version_id", token).Msg("Rotation completed successfully")
					return nil
				},
			},
			{
				Name:  "cancel-rotation",
				Usage: "Cancel a pending rotation",
				Flags: []cli.Flag{
					secretFlag,
					&cli.StringFlag{
						Name:     "version-id",
						Usage:    "Version ID of the pending rotation to cancel",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					rotator, err := newSessionKeyRotator()
					if err != nil {
						return err
					}

					if err := rotator.CancelRotation(logger.WithContext(c.Context), c.String("secret-id"), c.String("version-id")); err != nil {
						return err
					}

					logger.Info().Str("secret_id", c.String("secret-id")).Msg("Successfully cancelled pending rotation")
					return nil
				},
			},
		},
	}
}
