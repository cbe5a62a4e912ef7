package nbi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flight-sitl/internal/control"
	"github.com/signalsfoundry/flight-sitl/internal/mavlink"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/internal/stream"
	"github.com/signalsfoundry/flight-sitl/model"
)

type nbiHarness struct {
	bridge    *state.Bridge
	hub       *stream.Hub
	collector *observability.NBICollector
	client    *SimulatorClient
}

func startNBI(t *testing.T, lifecycleQueue int) *nbiHarness {
	t.Helper()

	collector, err := observability.NewNBICollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}
	bridge := state.NewBridge(state.Options{LifecycleQueue: lifecycleQueue})
	hub := stream.NewHub(nil, stream.HubOptions{})
	svc := NewSimulatorService(control.New(bridge, nil, nil), hub, nil)
	server := NewServer(svc, collector, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, server, lis, nil) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	return &nbiHarness{bridge: bridge, hub: hub, collector: collector, client: NewSimulatorClient(conn)}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func drain(b *state.Bridge) []state.LifecycleRequest {
	var out []state.LifecycleRequest
	for {
		req, ok := b.TakeLifecycle()
		if !ok {
			return out
		}
		out = append(out, req)
	}
}

func TestInitializeOverGRPC(t *testing.T) {
	h := startNBI(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := mustStruct(t, map[string]any{"altitude": 0, "speed": 0, "engine": true, "throttle": 20})
	if err := h.client.Initialize(ctx, cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	reqs := drain(h.bridge)
	if len(reqs) != 1 || reqs[0].Kind != state.Initialize || !reqs[0].Resume {
		t.Fatalf("lifecycle = %+v, want one resuming initialize", reqs)
	}
	if ic := reqs[0].Conditions; ic.Latitude != 37.4 || ic.Longitude != -122.1 || !ic.EngineOn {
		t.Fatalf("conditions = %+v", ic)
	}

	st, err := h.client.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !st.GetFields()["armed"].GetBoolValue() {
		t.Fatalf("state = %v, want armed", st)
	}
	if got := st.GetFields()["mode"].GetStringValue(); got != "uninitialized" {
		t.Fatalf("mode = %q before the first tick, want uninitialized", got)
	}
}

func TestControlValidationMapsToInvalidArgument(t *testing.T) {
	h := startNBI(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.client.Control(ctx, mustStruct(t, map[string]any{"roll": 50, "pitch": 50}))
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Fatalf("Control partial code = %v, want InvalidArgument", code)
	}

	if err := h.client.Control(ctx, mustStruct(t, map[string]any{"roll": 60, "pitch": 45, "yaw": 50, "throttle": 75})); err != nil {
		t.Fatalf("Control: %v", err)
	}
	want := model.OperatorCommand{Roll: 60, Pitch: 45, Yaw: 50, Throttle: 75}
	if got := h.bridge.Command(); got != want {
		t.Fatalf("command = %+v, want %+v", got, want)
	}

	service, method := observability.SplitMethod(SimulatorControlMethod)
	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues(service, method, codes.InvalidArgument.String())); got != 1 {
		t.Fatalf("invalid Control count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues(service, method, codes.OK.String())); got != 1 {
		t.Fatalf("ok Control count = %v, want 1", got)
	}
}

func TestArmTogglesAndReportsState(t *testing.T) {
	h := startNBI(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, want := range []bool{true, false} {
		out, err := h.client.Arm(ctx)
		if err != nil {
			t.Fatalf("Arm #%d: %v", i, err)
		}
		if got := out.GetFields()["armed"].GetBoolValue(); got != want {
			t.Fatalf("Arm #%d armed = %v, want %v", i, got, want)
		}
	}
}

func TestLifecycleQueueFullIsResourceExhausted(t *testing.T) {
	h := startNBI(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.client.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if code := status.Code(h.client.Resume(ctx)); code != codes.ResourceExhausted {
		t.Fatalf("Resume code = %v, want ResourceExhausted", code)
	}
}

func TestStreamTelemetryFiltersByDirection(t *testing.T) {
	h := startNBI(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tel, err := h.client.StreamTelemetry(ctx, mustStruct(t, map[string]any{"direction": "downlink"}))
	if err != nil {
		t.Fatalf("StreamTelemetry: %v", err)
	}
	for h.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("stream never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	enc := mavlink.NewEncoder(1, 1)
	hb, err := enc.EncodeFields(mavlink.MsgHeartbeat, map[string]any{"type": 1, "mavlink_version": 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.hub.Ingest(model.RadioChunk{Direction: model.Uplink, Data: hb})
	h.hub.Ingest(model.RadioChunk{Direction: model.Downlink, Data: hb})

	ev, err := tel.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	fields := ev.GetFields()
	if fields["direction"].GetStringValue() != "downlink" || fields["type"].GetStringValue() != "HEARTBEAT" {
		t.Fatalf("event = %v, want downlink HEARTBEAT", ev)
	}
	if fields["decoded"].GetStructValue() == nil {
		t.Fatalf("decoded = %v, want a struct", fields["decoded"])
	}
	cancel()
}

func TestStreamTelemetryRejectsBadDirection(t *testing.T) {
	h := startNBI(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tel, err := h.client.StreamTelemetry(ctx, mustStruct(t, map[string]any{"direction": "sideways"}))
	if err != nil {
		t.Fatalf("StreamTelemetry: %v", err)
	}
	if _, err := tel.Recv(); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Recv err = %v, want InvalidArgument", err)
	}
}
