package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/dialer/internal/banner"
	"github.com/sebas/dialer/internal/dialer/app"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dialer (SIP user agent, operator API, campaign loop)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.ResolveAdvertise()
	closer := app.SetupLogging(cfg.Log)
	defer closer.Close()

	slog.Info("Starting dialer",
		"operator", cfg.OperatorID,
		"node", cfg.NodeID,
		"backend", cfg.Backend.Address,
	)

	d, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to create dialer", "error", err)
		return err
	}

	_ = banner.Write(cmd.OutOrStdout(), "DIALER", []banner.Field{
		{Label: "Operator", Value: cfg.OperatorID},
		{Label: "Node", Value: cfg.NodeID},
		{Label: "SIP", Value: fmt.Sprintf("%s:%d (advertise %s)", cfg.SIP.BindAddr, cfg.SIP.Port, cfg.SIP.AdvertiseAddr)},
		{Label: "RTP ports", Value: fmt.Sprintf("%d-%d", cfg.SIP.RTPPortMin, cfg.SIP.RTPPortMax)},
		{Label: "Backend", Value: cfg.Backend.Address},
		{Label: "NATS", Value: cfg.NATS.URL},
		{Label: "API", Value: cfg.API.ListenAddr},
		{Label: "State dir", Value: cfg.StateDir},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		slog.Error("Dialer stopped with error", "error", err)
		return err
	}
	slog.Info("Dialer stopped")
	return nil
}
