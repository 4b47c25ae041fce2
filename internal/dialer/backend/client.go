// Package backend talks to the call-center backend over gRPC. Requests and
// replies are google.protobuf.Struct messages on the dialer.v1.Backend
// service.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/session"
)

const serviceName = "dialer.v1.Backend"

const (
	methodAcquireCallCapability = "AcquireCallCapability"
	methodClaimNextTarget       = "ClaimNextTarget"
	methodStopCampaign          = "StopCampaign"
	methodOriginateProviderCall = "OriginateProviderCall"
)

// Field names shared by client and server.
const (
	fieldOperatorID        = "operatorId"
	fieldLeg               = "leg"
	fieldToken             = "token"
	fieldLabelID           = "labelId"
	fieldMaxAttempts       = "maxAttempts"
	fieldTicketID          = "ticketId"
	fieldPhoneTargetID     = "phoneTargetId"
	fieldConversationID    = "conversationId"
	fieldConversationToken = "conversationToken"
	fieldCustomerID        = "customerId"
	fieldProviderProfileID = "providerProfileId"
)

// Config holds gRPC client configuration
type Config struct {
	Address           string
	OperatorID        string
	CallTimeout       time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Address:           "localhost:9090",
		CallTimeout:       10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Client is the backend client used by the device, the session manager
// and the campaign controller.
type Client struct {
	cfg  Config
	conn *grpc.ClientConn
}

var (
	_ channel.CapabilitySource   = (*Client)(nil)
	_ session.ProviderOriginator = (*Client)(nil)
	_ campaign.Backend           = (*Client)(nil)
)

// NewClient creates a client for cfg.Address. Extra options are appended
// to the defaults.
func NewClient(cfg Config, extra ...grpc.DialOption) (*Client, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.KeepaliveInterval > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client for %s: %w", cfg.Address, err)
	}
	slog.Info("[Backend] Client created", "address", cfg.Address, "operator", cfg.OperatorID)
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AcquireCallCapability fetches a capability token for one leg.
func (c *Client) AcquireCallCapability(ctx context.Context, leg channel.Kind) (string, error) {
	resp, err := c.invoke(ctx, methodAcquireCallCapability, map[string]any{
		fieldLeg: leg.String(),
	})
	if err != nil {
		return "", err
	}
	token := stringField(resp, fieldToken)
	if token == "" {
		return "", fmt.Errorf("%s: %w: empty token", methodAcquireCallCapability, ErrMalformedResponse)
	}
	return token, nil
}

// ClaimNextTarget leases the next target for label.
func (c *Client) ClaimNextTarget(ctx context.Context, labelID string, maxAttempts *int) (campaign.Target, error) {
	req := map[string]any{fieldLabelID: labelID}
	if maxAttempts != nil {
		req[fieldMaxAttempts] = *maxAttempts
	}
	resp, err := c.invoke(ctx, methodClaimNextTarget, req)
	if err != nil {
		return campaign.Target{}, err
	}
	t := campaign.Target{
		TicketID:          stringField(resp, fieldTicketID),
		PhoneTargetID:     stringField(resp, fieldPhoneTargetID),
		ConversationID:    stringField(resp, fieldConversationID),
		ConversationToken: stringField(resp, fieldConversationToken),
		CustomerID:        stringField(resp, fieldCustomerID),
	}
	if t.TicketID == "" {
		return campaign.Target{}, fmt.Errorf("%s: %w: missing ticket id", methodClaimNextTarget, ErrMalformedResponse)
	}
	return t, nil
}

// StopCampaign ends the operator's server-side campaign.
func (c *Client) StopCampaign(ctx context.Context) error {
	_, err := c.invoke(ctx, methodStopCampaign, nil)
	return err
}

// OriginateProviderCall asks the provider to originate the external leg.
func (c *Client) OriginateProviderCall(ctx context.Context, providerProfileID, phoneTargetID string) error {
	_, err := c.invoke(ctx, methodOriginateProviderCall, map[string]any{
		fieldProviderProfileID: providerProfileID,
		fieldPhoneTargetID:     phoneTargetID,
	})
	return err
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields[fieldOperatorID] = c.cfg.OperatorID

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	start := time.Now()
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		mapped := fromStatus(method, err)
		slog.Debug("[Backend] RPC failed", "method", method, "error", mapped, "elapsed", time.Since(start))
		return nil, mapped
	}
	slog.Debug("[Backend] RPC done", "method", method, "elapsed", time.Since(start))
	return resp, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func intField(s *structpb.Struct, key string) (int, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return int(v.GetNumberValue()), true
}
