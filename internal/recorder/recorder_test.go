package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/sim"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/model"
	"github.com/signalsfoundry/flight-sitl/timectrl"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	r := New(filepath.Join(t.TempDir(), "flight.db"), nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

type fixedSource struct {
	mu sync.Mutex
	ts model.TickState
	ok bool
}

func (f *fixedSource) Snapshot() (model.TickState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ts, f.ok
}

func (f *fixedSource) set(ts model.TickState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ts, f.ok = ts, true
}

func TestRecordEventsRoundTrip(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()
	if err := r.BeginSession(ctx, "s1", map[string]any{"period": "1ms"}); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	r.RecordEvent(ctx, "s1", sim.Event{Kind: sim.EventLifecycle, Tick: 1, Lifecycle: state.Initialize, Mode: model.ModePaused})
	r.RecordEvent(ctx, "s1", sim.Event{Kind: sim.EventResync, Tick: 50, Behind: 150 * time.Millisecond})
	r.RecordEvent(ctx, "s1", sim.Event{Kind: sim.EventStepError, Tick: 51, Stage: sim.StageOutputs, Err: errors.New("no outputs")})

	rows, err := r.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %+v, want 3", rows)
	}
	if rows[0].Kind != "lifecycle" || rows[0].Lifecycle != "initialize" || rows[0].Mode != "paused" {
		t.Fatalf("lifecycle row = %+v", rows[0])
	}
	if rows[1].Kind != "resync" || rows[1].Tick != 50 || rows[1].Behind != 150*time.Millisecond {
		t.Fatalf("resync row = %+v", rows[1])
	}
	if rows[2].Stage != sim.StageOutputs || rows[2].Error != "no outputs" || rows[2].Lifecycle != "" {
		t.Fatalf("step error row = %+v", rows[2])
	}
}

func TestEndSessionStoresResult(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()
	for _, id := range []string{"ok", "failed"} {
		if err := r.BeginSession(ctx, id, nil); err != nil {
			t.Fatalf("BeginSession(%s): %v", id, err)
		}
	}
	if got, _ := r.SessionResult(ctx, "ok"); got != "" {
		t.Fatalf("open session result = %q, want empty", got)
	}
	if err := r.EndSession(ctx, "ok", nil); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	runErr := fmt.Errorf("%w at tick 500", sim.ErrWatchdogTimeout)
	if err := r.EndSession(ctx, "failed", runErr); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if got, _ := r.SessionResult(ctx, "ok"); got != "ok" {
		t.Fatalf("result = %q, want ok", got)
	}
	if got, _ := r.SessionResult(ctx, "failed"); got != runErr.Error() {
		t.Fatalf("result = %q, want %q", got, runErr.Error())
	}
}

func TestSamplerSkipsUnchangedSnapshots(t *testing.T) {
	r := newRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.BeginSession(ctx, "s", nil); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	src := &fixedSource{}
	done := make(chan error, 1)
	go func() { done <- r.RunSampler(ctx, "s", src, 2*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	src.set(model.TickState{Seq: 10, Mode: model.ModeRunning, Altitude: 100, Armed: true, Outputs: model.ActuatorOutputs{Throttle: 60}})
	time.Sleep(20 * time.Millisecond)
	src.set(model.TickState{Seq: 11, Mode: model.ModeRunning, Altitude: 101})
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunSampler: %v", err)
	}

	rows, err := r.Samples(context.Background(), "s")
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("samples = %+v, want one per distinct Seq", rows)
	}
	if rows[0].Seq != 10 || !rows[0].Armed || rows[0].Throttle != 60 || rows[0].Mode != "running" {
		t.Fatalf("first sample = %+v", rows[0])
	}
	if rows[1].Seq != 11 || rows[1].Armed || rows[1].Altitude != 101 {
		t.Fatalf("second sample = %+v", rows[1])
	}
}

func TestClosedRecorderRejectsWrites(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()
	if err := r.BeginSession(ctx, "s", nil); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := r.RecordSample(ctx, "s", model.TickState{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("RecordSample after Close = %v, want ErrClosed", err)
	}
	r.RecordEvent(ctx, "s", sim.Event{Kind: sim.EventResync})
	if r.failed.Load() != 1 {
		t.Fatalf("failed = %d, want 1", r.failed.Load())
	}
}

func TestRecorderAsSessionSink(t *testing.T) {
	r := newRecorder(t)
	s := sim.NewSession(sim.SessionOptions{
		Scheduler: sim.Config{Pacing: timectrl.Accelerated},
		Sinks:     []sim.EventSink{r},
	}, plant.NewKinematic(plant.DefaultKinematicConfig()), autopilot.NewReference(autopilot.DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.BeginSession(ctx, s.ID, nil); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Initialize, Conditions: model.DefaultInitialConditions()})
	s.Bridge.RequestLifecycle(state.LifecycleRequest{Kind: state.Resume})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, err := r.Events(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var lifecycles []string
	for _, row := range rows {
		if row.Kind == "lifecycle" {
			lifecycles = append(lifecycles, row.Lifecycle)
		}
	}
	if len(lifecycles) != 2 || lifecycles[0] != "initialize" || lifecycles[1] != "resume" {
		t.Fatalf("lifecycle events = %v, want initialize, resume", lifecycles)
	}
}
