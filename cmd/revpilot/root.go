package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"revpilot/internal/bootstrap"
)

var version = "dev" // set via ldflags at build time

// buildServices is replaced in tests.
var buildServices = bootstrap.Build

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "revpilot",
		Short: "Revenue copilot from the terminal",
		Long: `revpilot talks to the same copilot backend as the desktop app.
It reads REVPILOT_* environment variables and, with --config, a YAML file.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			if err := os.Setenv("REVPILOT_CONFIG", configPath); err != nil {
				return fmt.Errorf("setting config path: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newVoiceCmd())
	return root
}

// session builds the runtime graph with a terminal sink writing to out.
func session(out io.Writer) (bootstrap.Services, *terminalSink, error) {
	sink := newTerminalSink(out)
	services, err := buildServices(sink)
	if err != nil {
		return bootstrap.Services{}, nil, err
	}
	return services, sink, nil
}
