package main

import (
	"encoding/json"
	"fmt"

	"github.com/sebas/dialer/internal/dialer/app"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted campaign record",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rec, err := app.LoadCampaign(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rec == nil {
		fmt.Fprintln(out, "no campaign")
		return nil
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}
