package commands

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/health"
	"github.com/urfave/cli/v2"
)

// HealthcheckCommand probes a health URL once and exits non-zero when it is
// unhealthy. Images built FROM scratch have no curl, so HEALTHCHECK runs this.
func HealthcheckCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "healthcheck",
		Usage: "Probe a health endpoint once (exit 0 when healthy, 1 otherwise)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Health endpoint to probe",
				Value:   "http://127.0.0.1:8000/health",
				EnvVars: []string{"HEALTHCHECK_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Probe timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			probe := health.Probe{URL: c.String("url"), Timeout: c.Duration("timeout")}
			if err := probe.Check(c.Context); err != nil {
				logger.Error().Err(err).Str("url", probe.URL).Msg("Unhealthy")
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}
