// Package sim runs the fixed-period step loop that couples the plant model to
// the autopilot, and owns the session that ties both to the network side.
package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/model"
	"github.com/signalsfoundry/flight-sitl/timectrl"
)

// Defaults for Config.
const (
	DefaultPeriod      = time.Millisecond
	DefaultMaxLag      = 100 * time.Millisecond
	DefaultEventBuffer = 256
)

var (
	// ErrWatchdogTimeout ends Run when the autopilot watchdog expires.
	ErrWatchdogTimeout = errors.New("sim: autopilot watchdog timeout")
	// ErrNotInitialized rejects Pause and Resume before Initialize.
	ErrNotInitialized = errors.New("sim: not initialized")
)

// Metrics receives per-tick measurements. Implementations must not block.
type Metrics interface {
	ObserveTick(d, lateness time.Duration)
	IncResync()
	IncStepError(stage string)
	IncWatchdogTimeout()
	SetMode(mode int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration, time.Duration) {}
func (nopMetrics) IncResync()                               {}
func (nopMetrics) IncStepError(string)                      {}
func (nopMetrics) IncWatchdogTimeout()                      {}
func (nopMetrics) SetMode(int)                              {}

// Config parameterizes a Scheduler. Zero values select the defaults.
type Config struct {
	Period time.Duration
	MaxLag time.Duration
	Pacing timectrl.Mode
	Clock  timectrl.Clock

	EventBuffer int
	Metrics     Metrics
}

// Scheduler executes the step loop. Everything except Events and
// DroppedEvents is owned by the goroutine calling Run or Step.
type Scheduler struct {
	cfg     Config
	bridge  *state.Bridge
	plant   *plant.Adapter
	ap      *autopilot.Adapter
	pacer   *timectrl.Pacer
	metrics Metrics

	events        chan Event
	droppedEvents atomic.Uint64

	mode    model.Mode
	tick    uint64
	seq     uint64
	last    model.PlantState
	outputs model.ActuatorOutputs
	wake    timectrl.Wake
}

// NewScheduler wires a scheduler to its bridge and adapters.
func NewScheduler(cfg Config, bridge *state.Bridge, p *plant.Adapter, ap *autopilot.Adapter) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.MaxLag <= 0 {
		cfg.MaxLag = DefaultMaxLag
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Scheduler{
		cfg:     cfg,
		bridge:  bridge,
		plant:   p,
		ap:      ap,
		pacer:   timectrl.NewPacer(cfg.Period, cfg.MaxLag, cfg.Pacing, cfg.Clock),
		metrics: metrics,
		events:  make(chan Event, cfg.EventBuffer),
		outputs: model.NeutralOutputs(),
	}
}

// Events is the bounded event stream. Events are dropped, never blocked on,
// when nobody drains it.
func (s *Scheduler) Events() <-chan Event { return s.events }

// DroppedEvents counts events lost to a full event channel.
func (s *Scheduler) DroppedEvents() uint64 { return s.droppedEvents.Load() }

// Period is the configured tick length.
func (s *Scheduler) Period() time.Duration { return s.cfg.Period }

// Run paces ticks until ctx is cancelled, checked at tick boundaries, or a
// watchdog timeout ends the session. Cancellation returns nil. The calling
// goroutine is locked to its OS thread for the duration.
func (s *Scheduler) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.wake = s.pacer.Wait()
		start := time.Now()

		if err := s.step(); err != nil {
			return err
		}
		s.metrics.ObserveTick(time.Since(start), s.wake.Lateness)

		if r, ok := s.pacer.Advance(); ok {
			s.metrics.IncResync()
			s.emit(Event{Kind: EventResync, Tick: s.tick, At: r.Deadline, Behind: r.Behind})
		}
	}
}

// Step executes exactly one tick without pacing.
func (s *Scheduler) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.step()
}

func (s *Scheduler) step() error {
	s.applyLifecycle()
	if s.mode == model.ModeUninitialized {
		return nil
	}
	s.tick++

	cmd := s.bridge.Command()
	if ps, err := s.plant.State(); err != nil {
		s.stepError(StagePlantState, err)
	} else {
		s.last = ps
	}

	if err := s.ap.PushSensors(model.SensorsFromPlant(s.last)); err != nil {
		s.stepError(StageSensors, err)
	}
	if err := s.ap.PushCommand(cmd); err != nil {
		s.stepError(StageCommand, err)
	}
	for _, p := range s.bridge.DrainUplink() {
		s.ap.PushUplink(p)
	}

	if err := s.ap.Advance(); err != nil {
		if errors.Is(err, autopilot.ErrWatchdogTimeout) {
			s.metrics.IncWatchdogTimeout()
			s.emit(Event{Kind: EventWatchdog, Tick: s.tick, At: time.Now(), Err: err, Mode: s.mode})
			return fmt.Errorf("%w at tick %d: %w", ErrWatchdogTimeout, s.tick, err)
		}
		s.stepError(StageAdvance, err)
	}
	for _, c := range s.ap.DrainTelemetry() {
		s.bridge.PushDownlink(c)
	}

	out, err := s.ap.Outputs()
	if err != nil {
		s.stepError(StageOutputs, err)
	}

	if s.mode == model.ModeRunning {
		if err == nil {
			if aerr := s.plant.SetActuators(out); aerr != nil {
				s.stepError(StageActuators, aerr)
			} else {
				s.outputs = out
			}
		}
		if err := s.plant.Advance(); err != nil {
			s.stepError(StagePlantAdvance, err)
		} else if ps, err := s.plant.State(); err == nil {
			s.last = ps
		}
	} else if err == nil {
		s.outputs = out
	}

	s.publish(cmd)
	return nil
}

func (s *Scheduler) publish(cmd model.OperatorCommand) {
	s.seq++
	p := s.last
	s.bridge.Publish(model.TickState{
		Seq:         s.seq,
		SimTime:     p.SimTime,
		Mode:        s.mode,
		Roll:        p.Roll,
		Pitch:       p.Pitch,
		Yaw:         p.Yaw,
		RollRate:    p.RollRate,
		PitchRate:   p.PitchRate,
		YawRate:     p.YawRate,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Altitude:    p.Altitude,
		GroundSpeed: p.GroundSpeed,
		Airspeed:    p.Airspeed,
		Heading:     p.Heading,
		Fuel:        p.Fuel,
		RPM:         p.RPM,
		Outputs:     s.outputs,
		Armed:       cmd.Armed,
	})
}

// applyLifecycle applies every pending request in arrival order.
func (s *Scheduler) applyLifecycle() {
	for {
		req, ok := s.bridge.TakeLifecycle()
		if !ok {
			return
		}
		ev := Event{Kind: EventLifecycle, Tick: s.tick, At: time.Now(), Lifecycle: req.Kind}

		switch req.Kind {
		case state.Initialize:
			ev.Err = s.initialize(req.Conditions)
			if ev.Err == nil && req.Resume {
				s.setMode(model.ModeRunning)
			}
		case state.Pause:
			switch s.mode {
			case model.ModeUninitialized:
				ev.Err = ErrNotInitialized
			case model.ModeRunning:
				s.setMode(model.ModePaused)
			}
		case state.Resume:
			switch s.mode {
			case model.ModeUninitialized:
				ev.Err = ErrNotInitialized
			case model.ModePaused:
				s.setMode(model.ModeRunning)
			}
		default:
			ev.Err = fmt.Errorf("sim: unknown lifecycle request %d", req.Kind)
		}

		ev.Mode = s.mode
		s.emit(ev)
	}
}

func (s *Scheduler) initialize(ic model.InitialConditions) error {
	if err := s.plant.Initialize(ic); err != nil {
		s.metrics.IncStepError(StageInitialize)
		return err
	}
	ps, err := s.plant.State()
	if err != nil {
		s.metrics.IncStepError(StageInitialize)
		return err
	}
	s.last = ps
	if err := s.ap.SetBatteryCapacity(ps.Fuel); err != nil {
		s.stepError(StageBattery, err)
	}

	s.outputs = model.NeutralOutputs()
	s.outputs.Throttle = ic.Throttle
	if err := s.plant.SetActuators(s.outputs); err != nil {
		s.stepError(StageActuators, err)
	}
	s.setMode(model.ModePaused)
	return nil
}

func (s *Scheduler) setMode(m model.Mode) {
	s.mode = m
	s.metrics.SetMode(int(m))
}

func (s *Scheduler) stepError(stage string, err error) {
	s.metrics.IncStepError(stage)
	s.emit(Event{Kind: EventStepError, Tick: s.tick, At: time.Now(), Stage: stage, Err: err, Mode: s.mode})
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.droppedEvents.Add(1)
	}
}
