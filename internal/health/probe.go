// Package health implements HTTP health probes with container-orchestrator
// semantics (interval, timeout, retries, start period) and the handlers the
// gate exposes for its own probes.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gateerrors "github.com/savaki/oidc-gate/internal/errors"
)

// Probe polls an HTTP endpoint until it reports healthy.
type Probe struct {
	URL string
	// Interval between probe attempts; the first attempt happens after one
	// interval, as with a container HEALTHCHECK.
	Interval time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Retries is how many consecutive counted failures mark the target
	// unhealthy.
	Retries int
	// StartPeriod is a grace period during which failures are not counted.
	StartPeriod time.Duration

	Client *http.Client
}

// DefaultProbe mirrors the identity server health check in docker-compose.yml.
func DefaultProbe(url string) Probe {
	return Probe{
		URL:         url,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     15,
		StartPeriod: 30 * time.Second,
	}
}

// Check performs one probe attempt. Any 2xx response is healthy.
func (p Probe) Check(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("invalid probe url %s: %w", p.URL, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s failed: %w", p.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s returned %d", p.URL, resp.StatusCode)
	}
	return nil
}

// Wait blocks until the first healthy attempt, returning nil, or until
// Retries consecutive failures outside the start period, returning an error
// wrapping ErrUnhealthy. A cancelled ctx returns ctx.Err().
func (p Probe) Wait(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	retries := p.Retries
	if retries <= 0 {
		retries = 3
	}

	started := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := p.Check(ctx)
		if err == nil {
			logger.Info().Str("url", p.URL).Int("attempt", attempt).Msg("Dependency is healthy")
			return nil
		}

		if time.Since(started) < p.StartPeriod {
			logger.Debug().Err(err).Str("url", p.URL).Int("attempt", attempt).Msg("Probe failed during start period")
			continue
		}

		failures++
		logger.Warn().
			Err(err).
			Str("url", p.URL).
			Int("failures", failures).
			Int("retries", retries).
			Msg("Probe failed")
		if failures >= retries {
			return fmt.Errorf("%w: %s failed %d consecutive probes: %v", gateerrors.ErrUnhealthy, p.URL, failures, err)
		}
	}
}
