package sim

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
)

// EventSink receives scheduler events off the scheduler goroutine.
type EventSink interface {
	RecordEvent(ctx context.Context, sessionID string, ev Event)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Scheduler Config
	Bridge    state.Options
	Logger    logging.Logger
	// Metrics, when set, also serves as the scheduler's Metrics.
	Metrics *observability.SchedulerCollector
	Sinks   []EventSink
	// StatsInterval is how often bridge drop counters are folded into
	// metrics and logged. Zero selects one second.
	StatsInterval time.Duration
}

// Session is the context object for one simulation run. It owns the bridge,
// both adapters and the scheduler, and is handed to the network side at
// construction; nothing else reaches the scheduler.
type Session struct {
	ID        string
	Bridge    *state.Bridge
	Scheduler *Scheduler
	Plant     *plant.Adapter
	Autopilot *autopilot.Adapter

	log      logging.Logger
	metrics  *observability.SchedulerCollector
	sinks    []EventSink
	interval time.Duration

	mu        sync.Mutex
	lastStats state.Stats
}

// NewSession builds a session around a plant model and a flight controller.
func NewSession(opts SessionOptions, pm plant.Model, fc autopilot.FlightController) *Session {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	id := logging.NewSessionID()

	cfg := opts.Scheduler
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if opts.Metrics != nil && cfg.Metrics == nil {
		cfg.Metrics = opts.Metrics
	}
	interval := opts.StatsInterval
	if interval <= 0 {
		interval = time.Second
	}

	bridge := state.NewBridge(opts.Bridge)
	p := plant.NewAdapter(pm, cfg.Period)
	ap := autopilot.NewAdapter(fc)

	return &Session{
		ID:        id,
		Bridge:    bridge,
		Scheduler: NewScheduler(cfg, bridge, p, ap),
		Plant:     p,
		Autopilot: ap,
		log:       log.With(logging.String("session_id", id)),
		metrics:   opts.Metrics,
		sinks:     opts.Sinks,
		interval:  interval,
	}
}

// Context annotates ctx with the session id.
func (s *Session) Context(ctx context.Context) context.Context {
	return logging.ContextWithSessionID(ctx, s.ID)
}

// Run drives the scheduler on the calling goroutine and pumps its events on
// another until the scheduler returns. Pending events are flushed before Run
// returns.
func (s *Session) Run(ctx context.Context) error {
	ctx = s.Context(ctx)
	s.log.Info(ctx, "session starting",
		logging.Duration("period", s.Scheduler.Period()),
	)

	pumpCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(pumpCtx)
	}()

	err := s.Scheduler.Run(ctx)
	cancel()
	wg.Wait()
	s.flush(ctx)
	s.foldStats(ctx)

	if err != nil {
		s.log.Error(ctx, "session ended", logging.Err(err))
		return err
	}
	s.log.Info(ctx, "session stopped")
	return nil
}

func (s *Session) pump(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	events := s.Scheduler.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.handle(ctx, ev)
		case <-ticker.C:
			s.foldStats(ctx)
		}
	}
}

func (s *Session) flush(ctx context.Context) {
	events := s.Scheduler.Events()
	for {
		select {
		case ev := <-events:
			s.handle(ctx, ev)
		default:
			return
		}
	}
}

// handle logs ev and forwards it to every sink.
func (s *Session) handle(ctx context.Context, ev Event) {
	fields := []logging.Field{
		logging.String("event", ev.Kind.String()),
		logging.Uint64("tick", ev.Tick),
		logging.String("mode", ev.Mode.String()),
	}
	switch ev.Kind {
	case EventResync:
		s.log.Warn(ctx, "scheduler fell behind; deadline re-anchored",
			append(fields, logging.Duration("behind", ev.Behind))...)
	case EventStepError:
		s.log.Warn(ctx, "transient step error",
			append(fields, logging.String("stage", ev.Stage), logging.Err(ev.Err))...)
	case EventWatchdog:
		s.log.Error(ctx, "autopilot watchdog expired", append(fields, logging.Err(ev.Err))...)
	case EventLifecycle:
		fields = append(fields, logging.String("request", ev.Lifecycle.String()))
		if ev.Err != nil {
			s.log.Warn(ctx, "lifecycle request rejected", append(fields, logging.Err(ev.Err))...)
		} else {
			s.log.Info(ctx, "lifecycle request applied", fields...)
		}
	}
	for _, sink := range s.sinks {
		sink.RecordEvent(ctx, s.ID, ev)
	}
}

// foldStats adds new bridge and event drops to metrics.
func (s *Session) foldStats(ctx context.Context) {
	cur := s.Bridge.Stats()

	s.mu.Lock()
	prev := s.lastStats
	s.lastStats = cur
	s.mu.Unlock()

	downlink := cur.DroppedDownlink - prev.DroppedDownlink
	uplink := cur.DroppedUplink - prev.DroppedUplink
	lifecycle := cur.DroppedLifecycle - prev.DroppedLifecycle
	s.metrics.AddDropped("downlink", downlink)
	s.metrics.AddDropped("uplink", uplink)
	s.metrics.AddDropped("lifecycle", lifecycle)

	if downlink+uplink+lifecycle > 0 {
		s.log.Warn(ctx, "bridge queues dropped entries",
			logging.Uint64("downlink", downlink),
			logging.Uint64("uplink", uplink),
			logging.Uint64("lifecycle", lifecycle),
			logging.Uint64("events_dropped_total", s.Scheduler.DroppedEvents()),
		)
	}
}
