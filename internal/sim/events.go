package sim

import (
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/model"
)

// EventKind classifies scheduler events.
type EventKind int

const (
	// EventResync reports that the pacer dropped its backlog.
	EventResync EventKind = iota + 1
	// EventStepError reports a transient adapter error. The tick continued.
	EventStepError
	// EventWatchdog reports the fatal autopilot watchdog expiry.
	EventWatchdog
	// EventLifecycle reports an applied or rejected lifecycle request.
	EventLifecycle
)

func (k EventKind) String() string {
	switch k {
	case EventResync:
		return "resync"
	case EventStepError:
		return "step_error"
	case EventWatchdog:
		return "watchdog"
	case EventLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Event is emitted by the scheduler onto a bounded channel and consumed off
// the scheduler goroutine.
type Event struct {
	Kind EventKind
	// Tick is the scheduler tick the event belongs to, starting at 1.
	Tick uint64
	At   time.Time

	// Stage names the failing tick stage for EventStepError.
	Stage string
	Err   error

	// Behind is the backlog dropped by an EventResync.
	Behind time.Duration

	Lifecycle state.LifecycleKind
	Mode      model.Mode
}

// Tick stages reported in step errors.
const (
	StagePlantState   = "plant_state"
	StageSensors      = "sensors"
	StageCommand      = "command"
	StageAdvance      = "autopilot_advance"
	StageOutputs      = "outputs"
	StageActuators    = "actuators"
	StagePlantAdvance = "plant_advance"
	StageInitialize   = "initialize"
	StageBattery      = "battery"
)
