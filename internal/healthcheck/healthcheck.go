package healthcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/tunnel-relay/internal/backend"
	"github.com/angeloszaimis/tunnel-relay/internal/metrics"
)

// Options configures the tunnel probe.
type Options struct {
	// Interval between probes. Zero disables probing.
	Interval time.Duration
	// Timeout bounds a single probe.
	Timeout time.Duration
	// Path, when set, probes with GET <path> instead of a bare TCP dial.
	Path string
}

// HealthCheck probes the tunnel endpoint immediately and then every
// interval until ctx is done, recording the result on the tunnel. The
// result is informational: the relay keeps forwarding either way.
func HealthCheck(
	ctx context.Context,
	tunnel *backend.Tunnel,
	opts Options,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	if opts.Interval <= 0 {
		logger.Info("Tunnel health check disabled")
		return
	}

	probe := newProbe(tunnel, opts)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		check(ctx, tunnel, probe, logger, collector)

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("backend", tunnel.Address()))
			return
		case <-ticker.C:
		}
	}
}

func check(
	ctx context.Context,
	tunnel *backend.Tunnel,
	probe func(context.Context) error,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	err := probe(ctx)
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	if !tunnel.SetHealthy(healthy) {
		return
	}

	collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventHealthChanged,
		Timestamp: time.Now(),
		Healthy:   healthy,
	})

	if healthy {
		logger.Info("Tunnel is up",
			slog.String("backend", tunnel.Address()))
	} else {
		logger.Warn("Tunnel is down",
			slog.String("backend", tunnel.Address()),
			slog.Any("err", err))
	}
}

func newProbe(tunnel *backend.Tunnel, opts Options) func(context.Context) error {
	if opts.Path == "" {
		return func(ctx context.Context) error {
			return dialProbe(ctx, tunnel.Address(), opts.Timeout)
		}
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:             nil,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	healthURL := tunnel.URL().ResolveReference(&url.URL{Path: opts.Path})

	return func(ctx context.Context) error {
		return httpProbe(ctx, client, healthURL.String())
	}
}

func dialProbe(ctx context.Context, address string, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func httpProbe(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health endpoint returned %d", res.StatusCode)
	}

	return nil
}
