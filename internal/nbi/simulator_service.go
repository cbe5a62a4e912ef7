// Package nbi contains the northbound gRPC Simulator service. It is a second
// front end to the operator control layer, next to the websocket channels.
package nbi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flight-sitl/internal/control"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/stream"
)

// SimulatorService implements SimulatorServer on top of a control.Controller
// and a telemetry hub.
type SimulatorService struct {
	ctl *control.Controller
	hub *stream.Hub
	log logging.Logger
}

var _ SimulatorServer = (*SimulatorService)(nil)

// NewSimulatorService constructs the service. hub may be nil, in which case
// StreamTelemetry fails with Unavailable.
func NewSimulatorService(ctl *control.Controller, hub *stream.Hub, log logging.Logger) *SimulatorService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulatorService{ctl: ctl, hub: hub, log: log}
}

// Initialize handles an init message whose config is the request struct.
func (s *SimulatorService) Initialize(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if _, err := s.dispatch(ctx, map[string]any{"type": control.TypeInit, "config": req.AsMap()}); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Control handles a control message with roll, pitch, yaw and throttle.
func (s *SimulatorService) Control(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	msg := req.AsMap()
	msg["type"] = control.TypeControl
	if _, err := s.dispatch(ctx, msg); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Arm toggles arming.
func (s *SimulatorService) Arm(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := s.dispatch(ctx, map[string]any{"type": control.TypeArm}); err != nil {
		return nil, ToStatusError(err)
	}
	out, err := structpb.NewStruct(map[string]any{"armed": s.ctl.State().Armed})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Pause queues a pause request.
func (s *SimulatorService) Pause(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.dispatch(ctx, map[string]any{"type": control.TypePause}); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Resume queues a resume request.
func (s *SimulatorService) Resume(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if _, err := s.dispatch(ctx, map[string]any{"type": control.TypeResume}); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// GetState returns the state reply the websocket channel would send.
func (s *SimulatorService) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	reply, err := s.dispatch(ctx, map[string]any{"type": control.TypeState})
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(reply)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// StreamTelemetry sends telemetry events until the client goes away. The
// optional "direction" field filters events.
func (s *SimulatorService) StreamTelemetry(req *structpb.Struct, srv grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := srv.Context()
	if s.hub == nil {
		return ToStatusError(ErrStreamUnavailable)
	}
	direction := req.GetFields()["direction"].GetStringValue()
	switch direction {
	case "", "uplink", "downlink":
	default:
		return ToStatusError(fmt.Errorf("%w: direction %q", control.ErrInvalidMessage, direction))
	}

	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}
	sub := s.hub.Subscribe()
	defer sub.Close()
	log.Info(ctx, "telemetry stream opened",
		logging.String("subscriber", sub.ID),
		logging.String("direction", direction),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "telemetry stream closed",
				logging.String("subscriber", sub.ID),
				logging.Uint64("dropped", sub.Dropped()),
			)
			return nil
		case ev := <-sub.C():
			if direction != "" && ev.Direction != direction {
				continue
			}
			msg, err := toStruct(ev)
			if err != nil {
				log.Warn(ctx, "telemetry event not representable", logging.String("type", ev.Type), logging.Err(err))
				continue
			}
			if err := srv.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *SimulatorService) dispatch(ctx context.Context, msg map[string]any) (*control.StateReply, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", control.ErrInvalidMessage, err)
	}
	return s.ctl.HandleRaw(ctx, data)
}

// toStruct converts a JSON-tagged value into a Struct with the same keys.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
