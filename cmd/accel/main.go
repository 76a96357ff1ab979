// Package main provides the accel CLI: runtime inspection, a self-test of
// the marshaling paths and a small status server.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/born-ml/accel/internal/config"
	"github.com/born-ml/accel/internal/lifecycle"
	"github.com/born-ml/accel/internal/logging"
)

const version = "v0.1.0-dev"

type globalFlags struct {
	config   string
	runtime  string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "accel",
		Short:         "Accelerator bridge for n-dimensional arrays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "configuration file (.yaml, .json, .toml); defaults to $"+config.EnvConfig)
	root.PersistentFlags().StringVar(&g.runtime, "runtime", "", "accelerator runtime to open")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (off, error, warn, info, debug)")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "accel %s\n", version)
			},
		},
		newInfoCmd(&g),
		newSelftestCmd(&g),
		newServeCmd(&g),
	)
	return root
}

// load resolves the configuration: the --config file or the environment,
// then the command-line overrides.
func (g *globalFlags) load() (config.Config, zerolog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if g.config != "" {
		cfg, err = config.Load(g.config)
	} else {
		cfg, err = config.FromEnv(logging.Console(os.Getenv(config.EnvLogLevel)))
	}
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if g.runtime != "" {
		cfg.Runtime = g.runtime
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, logging.Console(cfg.LogLevel), cfg.Validate()
}

// controller builds a controller for cfg. The CLI installs its own signal
// handling, so the controller's is turned off.
func controller(cfg config.Config, log zerolog.Logger) (*lifecycle.Controller, error) {
	cfg.ShutdownOnSignal = false
	return lifecycle.New(cfg, lifecycle.WithLogger(log))
}
