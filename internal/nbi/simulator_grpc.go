package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified method names of the Simulator service.
const (
	SimulatorServiceName           = "sitl.v1.Simulator"
	SimulatorInitializeMethod      = "/sitl.v1.Simulator/Initialize"
	SimulatorControlMethod         = "/sitl.v1.Simulator/Control"
	SimulatorArmMethod             = "/sitl.v1.Simulator/Arm"
	SimulatorPauseMethod           = "/sitl.v1.Simulator/Pause"
	SimulatorResumeMethod          = "/sitl.v1.Simulator/Resume"
	SimulatorGetStateMethod        = "/sitl.v1.Simulator/GetState"
	SimulatorStreamTelemetryMethod = "/sitl.v1.Simulator/StreamTelemetry"
)

// SimulatorServer is the server API of the Simulator service. Payloads use
// the well-known Struct type and carry the same fields as the websocket
// control and telemetry channels.
type SimulatorServer interface {
	Initialize(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Control(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Arm(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Pause(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Resume(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamTelemetry(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSimulatorServer registers srv on s.
func RegisterSimulatorServer(s grpc.ServiceRegistrar, srv SimulatorServer) {
	s.RegisterService(&simulatorServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](fullMethod string, call func(SimulatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(SimulatorServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

func streamTelemetryHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SimulatorServer).StreamTelemetry(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var simulatorServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulatorServiceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: unaryHandler(SimulatorInitializeMethod, SimulatorServer.Initialize)},
		{MethodName: "Control", Handler: unaryHandler(SimulatorControlMethod, SimulatorServer.Control)},
		{MethodName: "Arm", Handler: unaryHandler(SimulatorArmMethod, SimulatorServer.Arm)},
		{MethodName: "Pause", Handler: unaryHandler(SimulatorPauseMethod, SimulatorServer.Pause)},
		{MethodName: "Resume", Handler: unaryHandler(SimulatorResumeMethod, SimulatorServer.Resume)},
		{MethodName: "GetState", Handler: unaryHandler(SimulatorGetStateMethod, SimulatorServer.GetState)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTelemetry",
			Handler:       streamTelemetryHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sitl/v1/simulator.proto",
}

// SimulatorClient is the client API of the Simulator service.
type SimulatorClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulatorClient wraps cc.
func NewSimulatorClient(cc grpc.ClientConnInterface) *SimulatorClient {
	return &SimulatorClient{cc: cc}
}

// Initialize sends an init message; in carries the init config fields.
func (c *SimulatorClient) Initialize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, SimulatorInitializeMethod, in, new(emptypb.Empty), opts...)
}

// Control sets the four stick axes.
func (c *SimulatorClient) Control(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, SimulatorControlMethod, in, new(emptypb.Empty), opts...)
}

// Arm toggles arming and returns {"armed": bool}.
func (c *SimulatorClient) Arm(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SimulatorArmMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause queues a pause request.
func (c *SimulatorClient) Pause(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, SimulatorPauseMethod, new(emptypb.Empty), new(emptypb.Empty), opts...)
}

// Resume queues a resume request.
func (c *SimulatorClient) Resume(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, SimulatorResumeMethod, new(emptypb.Empty), new(emptypb.Empty), opts...)
}

// GetState returns the latest state reply.
func (c *SimulatorClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SimulatorGetStateMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamTelemetry opens a telemetry stream. in may set "direction" to
// "uplink" or "downlink" to filter events.
func (c *SimulatorClient) StreamTelemetry(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &simulatorServiceDesc.Streams[0], SimulatorStreamTelemetryMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
