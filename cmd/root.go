package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/tunnel-relay/config"
	"github.com/angeloszaimis/tunnel-relay/pkg/logger"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "tunnel-relay",
		Short: "Relay public HTTP traffic into an SSH remote-forwarded port",
		Long: "tunnel-relay accepts HTTP requests on a public port and forwards each one\n" +
			"to the loopback end of an `ssh -R` tunnel, streaming the answer back.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(v, configFile)
			if err != nil {
				return err
			}

			log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, log)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (default ./config/config.yaml or ./config.yaml)")
	flags.IntP("port", "p", 0, "listen port, overrides LISTEN_PORT and PORT")
	flags.String("backend-host", "", "tunnel endpoint host, must be a loopback address")
	flags.Int("backend-port", 0, "tunnel endpoint port")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	for key, name := range map[string]string{
		"server.port":   "port",
		"backend.host":  "backend-host",
		"backend.port":  "backend-port",
		"logging.level": "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	rootCmd.AddCommand(newInitCmd())
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

func newInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
			return nil
		},
	}

	initCmd.Flags().StringVarP(&output, "output", "o", "config/config.yaml", "where to write the configuration")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return initCmd
}
