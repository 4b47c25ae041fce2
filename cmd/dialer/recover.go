package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sebas/dialer/internal/dialer/app"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Stop and clear a campaign left active by a crashed dialer",
	RunE:  runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	closer := app.SetupLogging(cfg.Log)
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := app.RecoverCampaign(ctx, cfg); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "campaign state is clean")
	return nil
}
