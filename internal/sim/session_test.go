package sim

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/model"
	"github.com/signalsfoundry/flight-sitl/timectrl"
)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]bool
}

func (c *collectingSink) RecordEvent(_ context.Context, id string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = make(map[string]bool)
	}
	c.ids[id] = true
	c.events = append(c.events, ev)
}

// syncBuffer guards a bytes.Buffer shared by the logger and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionFlushesEventsOnWatchdog(t *testing.T) {
	var logs syncBuffer
	sink := &collectingSink{}
	fc := &scriptedController{failAt: 50, outputs: model.NeutralOutputs()}
	s := NewSession(SessionOptions{
		Scheduler: Config{Pacing: timectrl.Accelerated},
		Logger:    logging.NewWithWriter(logging.Config{Format: "json"}, &logs),
		Sinks:     []EventSink{sink},
	}, &countingModel{}, fc)

	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Initialize, Conditions: model.DefaultInitialConditions()})
	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Resume})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrWatchdogTimeout) {
		t.Fatalf("Run error = %v, want ErrWatchdogTimeout", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(eventsOf(sink.events, EventLifecycle)) != 2 || len(eventsOf(sink.events, EventWatchdog)) != 1 {
		t.Fatalf("sink events = %+v, want 2 lifecycle and 1 watchdog", sink.events)
	}
	if !sink.ids[s.ID] || len(sink.ids) != 1 {
		t.Fatalf("sink session ids = %v, want only %q", sink.ids, s.ID)
	}
	out := logs.String()
	if !strings.Contains(out, "autopilot watchdog expired") || !strings.Contains(out, s.ID) {
		t.Fatalf("logs missing watchdog entry with session id:\n%s", out)
	}
}

func TestSessionRunsReferenceStack(t *testing.T) {
	s := NewSession(SessionOptions{
		Scheduler: Config{Pacing: timectrl.Accelerated},
	}, plant.NewKinematic(plant.DefaultKinematicConfig()), autopilot.NewReference(autopilot.DefaultConfig()))

	ic := model.DefaultInitialConditions()
	ic.AltitudeFt = 2500
	ic.SpeedKts = 110
	ic.EngineOn = true
	ic.Throttle = 60
	s.Bridge.WriteCommand(model.OperatorCommand{Roll: 50, Pitch: 50, Yaw: 50, Throttle: 60, Armed: true})
	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Initialize, Conditions: ic})
	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Resume})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ts, ok := s.Bridge.Snapshot()
	if !ok || ts.Seq == 0 {
		t.Fatalf("no snapshot published")
	}
	if ts.Mode != model.ModeRunning || !ts.Armed {
		t.Fatalf("snapshot mode=%v armed=%v, want running and armed", ts.Mode, ts.Armed)
	}
	if ts.Outputs.Throttle != 60 {
		t.Fatalf("throttle output = %v, want RC passthrough 60", ts.Outputs.Throttle)
	}
	if ts.SimTime != time.Duration(ts.Seq)*time.Millisecond {
		t.Fatalf("SimTime = %v after %d ticks, want one period per tick", ts.SimTime, ts.Seq)
	}
	if s.Bridge.Stats().PendingDownlink == 0 {
		t.Fatalf("no telemetry reached the downlink queue")
	}
}
