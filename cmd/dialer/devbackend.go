package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/dialer/internal/dialer/backend"
	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/config"
	"github.com/sebas/dialer/internal/logger"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"
)

var devBackendCmd = &cobra.Command{
	Use:   "devbackend",
	Short: "Run an in-memory backend for local testing",
	Long: `Serves the backend gRPC API from memory. Targets are read from a YAML
file mapping label ids to target lists:

  sales:
    - ticket: t-1
      phone_target: p-1
      conversation: c-1
      customer: cu-1`,
	RunE: runDevBackend,
}

func init() {
	devBackendCmd.Flags().String("listen", ":9090", "gRPC listen address")
	devBackendCmd.Flags().String("targets", "", "YAML file with campaign targets")
	devBackendCmd.Flags().StringSlice("operators", nil, "Operators allowed to acquire capabilities (all when empty)")
}

type targetFile map[string][]struct {
	Ticket            string `yaml:"ticket"`
	PhoneTarget       string `yaml:"phone_target"`
	Conversation      string `yaml:"conversation"`
	ConversationToken string `yaml:"conversation_token"`
	Customer          string `yaml:"customer"`
}

func loadTargets(path string) (map[string][]campaign.Target, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf targetFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	out := make(map[string][]campaign.Target, len(tf))
	for label, list := range tf {
		for _, t := range list {
			out[label] = append(out[label], campaign.Target{
				TicketID:          t.Ticket,
				PhoneTargetID:     t.PhoneTarget,
				ConversationID:    t.Conversation,
				ConversationToken: t.ConversationToken,
				CustomerID:        t.Customer,
			})
		}
	}
	return out, nil
}

func runDevBackend(cmd *cobra.Command, args []string) error {
	logger.InitLogger(os.Stdout)
	level, _ := cmd.Flags().GetString(config.FlagLogLevel)
	logger.SetLevel(level)

	listen, _ := cmd.Flags().GetString("listen")
	path, _ := cmd.Flags().GetString("targets")
	operators, _ := cmd.Flags().GetStringSlice("operators")

	targets, err := loadTargets(path)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	srv := grpc.NewServer()
	backend.RegisterServer(srv, backend.NewMemoryBackend(targets, operators...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	slog.Info("[DevBackend] Serving", "addr", lis.Addr().String(), "labels", len(targets))
	return srv.Serve(lis)
}
