package main

import (
	"github.com/sebas/dialer/internal/dialer/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "dialer",
	Short:         "Operator autodialer: call sessions, campaigns, roster",
	Long:          `SIP call control for one operator. Commands: serve, recover, status, devbackend.`,
	RunE:          runServe, // default: same as "dialer serve"
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(devBackendCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
