package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tunnel-relay/config"
	"github.com/angeloszaimis/tunnel-relay/internal/backend"
	"github.com/angeloszaimis/tunnel-relay/internal/healthcheck"
	"github.com/angeloszaimis/tunnel-relay/internal/httpserver"
	"github.com/angeloszaimis/tunnel-relay/internal/metrics"
	"github.com/angeloszaimis/tunnel-relay/internal/relay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("tunnel-relay exited", slog.Any("err", err))
		os.Exit(1)
	}
}

type timeouts struct {
	connect        time.Duration
	responseHeader time.Duration
	readHeader     time.Duration
	read           time.Duration
	write          time.Duration
	idle           time.Duration
	probeInterval  time.Duration
	probeTimeout   time.Duration
}

// app holds everything one relay process runs.
type app struct {
	log       *slog.Logger
	tunnel    *backend.Tunnel
	collector *metrics.Collector
	probe     healthcheck.Options
	relaySrv  *httpserver.Server
	adminSrv  *httpserver.Server
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	t, err := parseTimeouts(cfg)
	if err != nil {
		return nil, err
	}

	tunnel := backend.New(cfg.Backend.Address())
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)

	relayHandler := relay.New(log, tunnel, collector, relay.Config{
		ConnectTimeout:        t.connect,
		ResponseHeaderTimeout: t.responseHeader,
		KeepAlive:             cfg.Backend.KeepAlive,
		FullDuplex:            cfg.Server.FullDuplex,
	})

	relaySrv, err := httpserver.New(cfg.Server.Address(), relayHandler, httpserver.Options{
		ReadHeaderTimeout: t.readHeader,
		ReadTimeout:       t.read,
		WriteTimeout:      t.write,
		IdleTimeout:       t.idle,
		ErrorLog:          log,
	})
	if err != nil {
		log.Error("Failed to create relay server", slog.Any("err", err))
		return nil, err
	}

	a := &app{
		log:       log,
		tunnel:    tunnel,
		collector: collector,
		relaySrv:  relaySrv,
		probe: healthcheck.Options{
			Interval: t.probeInterval,
			Timeout:  t.probeTimeout,
			Path:     cfg.HealthCheck.Path,
		},
	}

	if cfg.Admin.Address != "" {
		a.adminSrv, err = httpserver.New(cfg.Admin.Address, setupAdminRouter(collector, tunnel), httpserver.Options{
			ReadHeaderTimeout: t.readHeader,
			IdleTimeout:       t.idle,
			ErrorLog:          log,
		})
		if err != nil {
			log.Error("Failed to create admin server", slog.Any("err", err))
			return nil, err
		}
	}

	return a, nil
}

// serve binds every listener before anything else starts, so a port in use
// fails the process instead of a background goroutine.
func (a *app) serve(ctx context.Context) error {
	if err := a.relaySrv.Listen(); err != nil {
		a.log.Error("Failed to bind relay listener", slog.Any("err", err))
		return err
	}

	if a.adminSrv != nil {
		if err := a.adminSrv.Listen(); err != nil {
			a.log.Error("Failed to bind admin listener", slog.Any("err", err))
			_ = a.relaySrv.Shutdown(context.Background())
			return err
		}
		a.log.Info("Admin listening", slog.String("addr", a.adminSrv.Addr().String()))
	}

	a.log.Info("Relay listening",
		slog.String("addr", a.relaySrv.Addr().String()),
		slog.String("backend", a.tunnel.Address()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.collector.Run(gctx)
		return nil
	})

	g.Go(func() error {
		healthcheck.HealthCheck(gctx, a.tunnel, a.probe, a.log, a.collector)
		return nil
	})

	g.Go(func() error {
		if err := a.relaySrv.Start(); err != nil {
			a.log.Error("Relay server failed", slog.Any("err", err))
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})

	if a.adminSrv != nil {
		g.Go(func() error {
			if err := a.adminSrv.Start(); err != nil {
				a.log.Error("Admin server failed", slog.Any("err", err))
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")
		a.shutdown()
		return nil
	})

	return g.Wait()
}

func (a *app) shutdown() {
	if err := a.relaySrv.Shutdown(context.Background()); err != nil {
		a.log.Error("Error during relay shutdown", slog.Any("err", err))
	}
	if a.adminSrv != nil {
		if err := a.adminSrv.Shutdown(context.Background()); err != nil {
			a.log.Error("Error during admin shutdown", slog.Any("err", err))
		}
	}
}

func parseTimeouts(cfg *config.Config) (timeouts, error) {
	var t timeouts

	fields := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"backend.connect_timeout", cfg.Backend.ConnectTimeout, &t.connect},
		{"backend.response_header_timeout", cfg.Backend.ResponseHeaderTimeout, &t.responseHeader},
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeout, &t.readHeader},
		{"server.read_timeout", cfg.Server.ReadTimeout, &t.read},
		{"server.write_timeout", cfg.Server.WriteTimeout, &t.write},
		{"server.idle_timeout", cfg.Server.IdleTimeout, &t.idle},
		{"health_check.interval", cfg.HealthCheck.Interval, &t.probeInterval},
		{"health_check.timeout", cfg.HealthCheck.Timeout, &t.probeTimeout},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return timeouts{}, fmt.Errorf("parse %s: %w", f.key, err)
		}
		*f.dst = d
	}

	return t, nil
}
