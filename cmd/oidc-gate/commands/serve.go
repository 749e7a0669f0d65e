package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/oidc-gate/internal/health"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand returns the serve command, which runs the gated sample application
func ServeCommand(logger *zerolog.Logger) *cli.Command {
	defaults := health.DefaultProbe("")

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP server",
		Description: `Start the gated sample application.

With --wait-for the server first polls a dependency's health endpoint using the
same interval, timeout, retries and start period semantics as a compose health
check, and refuses to start if the dependency never becomes healthy.

Examples:
  # Serve on port 8000 with 4 workers
  oidc-gate serve --host 0.0.0.0 --port 8000 --workers 4

  # Wait for Keycloak before serving
  oidc-gate serve --wait-for http://keycloak:8080/health/ready`,
		Flags: append(configFlags(),
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Interface to listen on",
				Value:   "0.0.0.0",
				EnvVars: []string{"HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8000,
				EnvVars: []string{"PORT"},
			},
			&cli.Int64Flag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Maximum requests served concurrently (0 for unlimited)",
				Value:   4,
				EnvVars: []string{"WORKERS"},
			},
			&cli.BoolFlag{
				Name:    "disable-auth",
				Usage:   "Disable authentication (for local development only)",
				EnvVars: []string{"DISABLE_AUTH"},
			},
			&cli.StringFlag{
				Name:    "wait-for",
				Usage:   "Health URL that must report healthy before serving",
				EnvVars: []string{"WAIT_FOR"},
			},
			&cli.DurationFlag{
				Name:  "wait-interval",
				Usage: "Time between health probes",
				Value: defaults.Interval,
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Usage: "Timeout of a single health probe",
				Value: defaults.Timeout,
			},
			&cli.IntFlag{
				Name:  "wait-retries",
				Usage: "Consecutive failed probes before giving up",
				Value: defaults.Retries,
			},
			&cli.DurationFlag{
				Name:  "wait-start-period",
				Usage: "Grace period during which failed probes are not counted",
				Value: defaults.StartPeriod,
			},
		),
		Action: func(c *cli.Context) error {
			return serveAction(c, *logger)
		},
	}
}

func serveAction(c *cli.Context, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if url := c.String("wait-for"); url != "" {
		probe := health.Probe{
			URL:         url,
			Interval:    c.Duration("wait-interval"),
			Timeout:     c.Duration("wait-timeout"),
			Retries:     c.Int("wait-retries"),
			StartPeriod: c.Duration("wait-start-period"),
		}
		logger.Info().
			Str("url", url).
			Dur("interval", probe.Interval).
			Dur("timeout", probe.Timeout).
			Int("retries", probe.Retries).
			Dur("start_period", probe.StartPeriod).
			Msg("Waiting for dependency to become healthy")

		if err := probe.Wait(logger.WithContext(ctx)); err != nil {
			return fmt.Errorf("dependency %s never became healthy: %w", url, err)
		}
	}

	port := strconv.Itoa(c.Int("port"))
	addr := net.JoinHostPort(c.String("host"), port)
	workers := c.Int64("workers")

	input := containerInputFrom(c)
	input.disableAuth = c.Bool("disable-auth")
	input.callbackURL = fmt.Sprintf("http://localhost:%s/oauth/callback", port)

	container, err := setupContainer(input)
	if err != nil {
		return fmt.Errorf("failed to setup DI container: %w", err)
	}

	if input.disableAuth {
		logger.Warn().Msg("⚠️  Authentication is DISABLED - this should only be used for development")
	}

	handler, err := buildHandler(container, logger, workers)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", addr).
		Str("env", input.env).
		Int64("workers", workers).
		Str("callback_url", input.callbackURL).
		Bool("disable_auth", input.disableAuth).
		Msg("Starting HTTP server")

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		logger.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
