package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/topology"
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, topology.ErrMalformedRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrNotLoaded),
		errors.Is(err, core.ErrRequestNotReturned):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, core.ErrAlreadyLoaded):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
