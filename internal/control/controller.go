package control

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/model"
)

const tracerName = "github.com/signalsfoundry/flight-sitl/internal/control"

// Controller applies operator messages to the bridge. It never touches the
// scheduler directly; lifecycle changes are queued and take effect at the
// next tick.
type Controller struct {
	bridge  *state.Bridge
	log     logging.Logger
	metrics *observability.StreamCollector
	tracer  trace.Tracer
}

// New constructs a Controller. log and metrics may be nil.
func New(bridge *state.Bridge, log logging.Logger, metrics *observability.StreamCollector) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	return &Controller{
		bridge:  bridge,
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// HandleRaw parses data and handles the message. The reply is non-nil only
// for state requests.
func (c *Controller) HandleRaw(ctx context.Context, data []byte) (*StateReply, error) {
	msg, err := Parse(data)
	if err != nil {
		c.metrics.IncControl("invalid", err)
		c.log.Warn(ctx, "control message rejected", logging.Err(err))
		return nil, err
	}
	return c.Handle(ctx, msg)
}

// Handle applies msg. The reply is non-nil only for state requests.
func (c *Controller) Handle(ctx context.Context, msg Message) (*StateReply, error) {
	ctx, span := c.tracer.Start(ctx, "control."+msg.Type,
		trace.WithAttributes(attribute.String("control.type", msg.Type)))
	defer span.End()

	var (
		reply *StateReply
		err   error
	)
	switch msg.Type {
	case TypeInit:
		err = c.Initialize(ctx, msg.Config)
	case TypeControl:
		err = c.SetSticks(msg.Sticks)
	case TypeArm:
		armed := c.ToggleArm()
		span.SetAttributes(attribute.Bool("control.armed", armed))
	case TypePause:
		err = c.request(state.LifecycleRequest{Kind: state.Pause})
	case TypeResume:
		err = c.request(state.LifecycleRequest{Kind: state.Resume})
	case TypeState:
		r := c.State()
		reply = &r
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	c.metrics.IncControl(msg.Type, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn(ctx, "control message failed", logging.String("type", msg.Type), logging.Err(err))
		return nil, err
	}
	if msg.Type != TypeState && msg.Type != TypeControl {
		c.log.Info(ctx, "control message applied", logging.String("type", msg.Type))
	}
	return reply, nil
}

// Initialize queues one Initialize request that also resumes the session
// unless cfg.Paused. The initial command is written only once the request
// is queued. The aircraft is armed exactly when the engine starts running.
func (c *Controller) Initialize(ctx context.Context, cfg InitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ic := cfg.InitialConditions
	req := state.LifecycleRequest{Kind: state.Initialize, Conditions: ic, Resume: !cfg.Paused}
	if err := c.request(req); err != nil {
		return err
	}
	cmd := model.DefaultCommand()
	cmd.Throttle = ic.Throttle
	cmd.Armed = ic.EngineOn
	c.bridge.WriteCommand(cmd)

	c.log.Debug(ctx, "initial conditions queued",
		logging.Float64("latitude", ic.Latitude),
		logging.Float64("longitude", ic.Longitude),
		logging.Float64("altitude_ft", ic.AltitudeFt),
		logging.Float64("speed_kts", ic.SpeedKts),
		logging.Bool("engine", ic.EngineOn),
	)
	return nil
}

// SetSticks replaces the four axes and keeps the arming state.
func (c *Controller) SetSticks(s Sticks) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.bridge.UpdateCommand(func(cmd model.OperatorCommand) model.OperatorCommand {
		cmd.Roll, cmd.Pitch, cmd.Yaw, cmd.Throttle = s.Roll, s.Pitch, s.Yaw, s.Throttle
		return cmd
	})
	return nil
}

// ToggleArm flips the arming state and returns the new value.
func (c *Controller) ToggleArm() bool {
	cmd := c.bridge.UpdateCommand(func(cmd model.OperatorCommand) model.OperatorCommand {
		cmd.Armed = !cmd.Armed
		return cmd
	})
	return cmd.Armed
}

// Pause queues a pause request.
func (c *Controller) Pause() error { return c.request(state.LifecycleRequest{Kind: state.Pause}) }

// Resume queues a resume request.
func (c *Controller) Resume() error { return c.request(state.LifecycleRequest{Kind: state.Resume}) }

// State reads the latest snapshot in UI units.
func (c *Controller) State() StateReply {
	ts, ok := c.bridge.Snapshot()
	return NewStateReply(ts, ok, c.bridge.Command().Armed)
}

func (c *Controller) request(req state.LifecycleRequest) error {
	if !c.bridge.RequestLifecycle(req) {
		return fmt.Errorf("%w: %s", ErrBusy, req.Kind)
	}
	return nil
}
