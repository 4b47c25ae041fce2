package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
)

// Handler is the server side of the backend service.
type Handler interface {
	AcquireCallCapability(ctx context.Context, operatorID string, leg channel.Kind) (string, error)
	ClaimNextTarget(ctx context.Context, operatorID, labelID string, maxAttempts *int) (campaign.Target, error)
	StopCampaign(ctx context.Context, operatorID string) error
	OriginateProviderCall(ctx context.Context, operatorID, providerProfileID, phoneTargetID string) error
}

type unaryFunc func(h Handler, ctx context.Context, req *structpb.Struct) (map[string]any, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodAcquireCallCapability, Handler: unary(methodAcquireCallCapability, handleAcquire)},
		{MethodName: methodClaimNextTarget, Handler: unary(methodClaimNextTarget, handleClaim)},
		{MethodName: methodStopCampaign, Handler: unary(methodStopCampaign, handleStop)},
		{MethodName: methodOriginateProviderCall, Handler: unary(methodOriginateProviderCall, handleOriginate)},
	},
	Metadata: "dialer/v1/backend.proto",
}

// RegisterServer registers h on s as the dialer.v1.Backend service.
func RegisterServer(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

func unary(method string, fn unaryFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			out, err := fn(srv.(Handler), ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, toStatus(err)
			}
			resp, err := structpb.NewStruct(out)
			if err != nil {
				return nil, toStatus(fmt.Errorf("encoding %s reply: %w", method, err))
			}
			return resp, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		return interceptor(ctx, in, info, call)
	}
}

func handleAcquire(h Handler, ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	var leg channel.Kind
	switch stringField(req, fieldLeg) {
	case channel.KindInternal.String():
		leg = channel.KindInternal
	case channel.KindExternal.String():
		leg = channel.KindExternal
	default:
		return nil, fmt.Errorf("%w: unknown leg %q", ErrBadRequest, stringField(req, fieldLeg))
	}
	token, err := h.AcquireCallCapability(ctx, stringField(req, fieldOperatorID), leg)
	if err != nil {
		return nil, err
	}
	return map[string]any{fieldToken: token}, nil
}

func handleClaim(h Handler, ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	var maxAttempts *int
	if n, ok := intField(req, fieldMaxAttempts); ok {
		maxAttempts = &n
	}
	t, err := h.ClaimNextTarget(ctx, stringField(req, fieldOperatorID), stringField(req, fieldLabelID), maxAttempts)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		fieldTicketID:          t.TicketID,
		fieldPhoneTargetID:     t.PhoneTargetID,
		fieldConversationID:    t.ConversationID,
		fieldConversationToken: t.ConversationToken,
		fieldCustomerID:        t.CustomerID,
	}, nil
}

func handleStop(h Handler, ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	return map[string]any{}, h.StopCampaign(ctx, stringField(req, fieldOperatorID))
}

func handleOriginate(h Handler, ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	err := h.OriginateProviderCall(ctx,
		stringField(req, fieldOperatorID),
		stringField(req, fieldProviderProfileID),
		stringField(req, fieldPhoneTargetID),
	)
	return map[string]any{}, err
}

// MemoryBackend is an in-process Handler serving queued targets per label.
// It backs `dialer devbackend` and the package tests.
type MemoryBackend struct {
	mu         sync.Mutex
	queues     map[string][]campaign.Target
	operators  map[string]bool
	stops      map[string]int
	originated []string
}

// NewMemoryBackend creates a backend with the given targets per label.
// When operators is non-empty only those operators get capability tokens.
func NewMemoryBackend(targets map[string][]campaign.Target, operators ...string) *MemoryBackend {
	b := &MemoryBackend{
		queues:    make(map[string][]campaign.Target),
		operators: make(map[string]bool),
		stops:     make(map[string]int),
	}
	for label, ts := range targets {
		b.queues[label] = append([]campaign.Target(nil), ts...)
	}
	for _, op := range operators {
		b.operators[op] = true
	}
	return b
}

func (b *MemoryBackend) AcquireCallCapability(ctx context.Context, operatorID string, leg channel.Kind) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.operators) > 0 && !b.operators[operatorID] {
		return "", fmt.Errorf("operator %q: %w", operatorID, channel.ErrNotAuthorized)
	}
	return "cap-" + operatorID + "-" + leg.String(), nil
}

func (b *MemoryBackend) ClaimNextTarget(ctx context.Context, operatorID, labelID string, maxAttempts *int) (campaign.Target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[labelID]
	if len(q) == 0 {
		return campaign.Target{}, fmt.Errorf("label %s: %w", labelID, campaign.ErrNoTarget)
	}
	b.queues[labelID] = q[1:]
	slog.Info("[DevBackend] Target claimed", "operator", operatorID, "label_id", labelID, "ticket_id", q[0].TicketID)
	return q[0], nil
}

func (b *MemoryBackend) StopCampaign(ctx context.Context, operatorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops[operatorID]++
	slog.Info("[DevBackend] Campaign stopped", "operator", operatorID)
	return nil
}

func (b *MemoryBackend) OriginateProviderCall(ctx context.Context, operatorID, providerProfileID, phoneTargetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.originated = append(b.originated, providerProfileID+"/"+phoneTargetID)
	slog.Info("[DevBackend] Provider call originated", "operator", operatorID, "profile", providerProfileID, "phone_target_id", phoneTargetID)
	return nil
}

// Stops returns how many times operatorID stopped a campaign.
func (b *MemoryBackend) Stops(operatorID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops[operatorID]
}

// Originated returns "profile/phone" for every originated call.
func (b *MemoryBackend) Originated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.originated...)
}

// Remaining returns how many targets label still has.
func (b *MemoryBackend) Remaining(labelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[labelID])
}
