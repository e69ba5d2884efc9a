// Echo-backend stands in for the local application behind the tunnel
// during development. It answers on the port tunnel-relay forwards to by
// default.
//
// Usage:
//
//	go run ./cmd/echo-backend --port 8081
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tunnel-relay/internal/httpserver"
	"github.com/angeloszaimis/tunnel-relay/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("echo-backend exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host     string
		port     int
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:           "echo-backend",
		Short:         "Development backend that echoes what it receives",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(os.Stdout, logLevel, false, "dev").With(slog.String("component", "echo-backend"))

			srv, err := httpserver.New(net.JoinHostPort(host, strconv.Itoa(port)), newMux(log), httpserver.Options{ErrorLog: log})
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}
			log.Info("Echo backend listening", slog.String("addr", srv.Addr().String()))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				return srv.Shutdown(context.Background())
			})
			return g.Wait()
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "interface to listen on")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8081, "port to listen on")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}
