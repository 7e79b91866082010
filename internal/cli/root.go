// Package cli implements remindctl, the operator command line for reminders and jobs.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
	"liveclass/internal/config"
)

// buildServices is replaced in tests.
var buildServices = app.Build

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:   "remindctl",
		Short: "Operate lesson reminders and notification jobs",
		Long: `remindctl talks to the same job store and queue as the api and worker.

Configuration comes from the environment and the YAML file named by --config or CONFIG_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")

	root.AddCommand(newRebuildCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// Execute runs the root command
func Execute(version string) error {
	root := newRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func withServices(fn func(cfg config.App, svc *app.Services) error) error {
	cfg := config.Load()
	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(cfg, svc)
}
