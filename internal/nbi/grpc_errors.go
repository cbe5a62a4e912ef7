package nbi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/flight-sitl/internal/control"
	"github.com/signalsfoundry/flight-sitl/internal/sim"
)

// ErrStreamUnavailable is returned by StreamTelemetry when the service was
// built without a telemetry hub.
var ErrStreamUnavailable = errors.New("telemetry stream not available")

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, control.ErrInvalidMessage):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, control.ErrBusy):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, sim.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, ErrStreamUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
