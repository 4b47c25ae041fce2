package backend

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
)

var (
	// ErrMalformedResponse is returned when a reply lacks a required field
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrBadRequest is returned by the server for an unusable request
	ErrBadRequest = errors.New("malformed backend request")
)

// RPCError wraps a failed backend call.
type RPCError struct {
	Method string
	Code   codes.Code
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("backend %s failed (%s): %v", e.Method, e.Code, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// fromStatus maps a gRPC error to the dialer's error taxonomy.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &RPCError{Method: method, Code: codes.Unknown, Err: err}
	}

	var mapped error = errors.New(st.Message())
	switch st.Code() {
	case codes.NotFound:
		if method == methodClaimNextTarget {
			mapped = fmt.Errorf("%w: %s", campaign.ErrNoTarget, st.Message())
		}
	case codes.PermissionDenied, codes.Unauthenticated:
		mapped = fmt.Errorf("%w: %s", channel.ErrNotAuthorized, st.Message())
	}
	return &RPCError{Method: method, Code: st.Code(), Err: mapped}
}

// toStatus maps a handler error to a gRPC status.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, campaign.ErrNoTarget):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, channel.ErrNotAuthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
