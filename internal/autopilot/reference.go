package autopilot

import (
	"math"
	"time"

	"github.com/felixge/pidctrl"

	"github.com/signalsfoundry/flight-sitl/internal/mavlink"
	"github.com/signalsfoundry/flight-sitl/model"
)

// Manager rates of the reference controller.
const (
	SystemManagerHz    = 20
	TelemetryManagerHz = 20
	AttitudeManagerHz  = 100
)

// Config parameterizes the reference controller.
type Config struct {
	// Tick is the duration of one Update.
	Tick            time.Duration
	WatchdogTimeout time.Duration

	SystemID    uint8
	ComponentID uint8

	// Stabilize holds wings level while the roll stick is centered.
	Stabilize bool
	RollKp    float64
	RollKi    float64
	RollKd    float64

	// RadioMTU splits each telemetry burst into chunks of at most this many
	// bytes. Zero sends one chunk per burst.
	RadioMTU int
	// QueueLimit caps each radio log direction; the oldest entries drop.
	QueueLimit int
}

// DefaultConfig mirrors the flight firmware defaults.
func DefaultConfig() Config {
	return Config{
		Tick:            time.Millisecond,
		WatchdogTimeout: 10 * time.Second,
		SystemID:        1,
		ComponentID:     1,
		RollKp:          1.5,
		RollKi:          0.1,
		RollKd:          0.05,
		QueueLimit:      100,
	}
}

// Reference is a self-contained flight controller: RC passthrough with
// optional roll stabilization, a power/IMU/GPS sensor suite, and a MAVLink
// radio. It runs system, telemetry and attitude managers at fixed divisions
// of the tick.
type Reference struct {
	cfg Config

	smEvery, tmEvery, amEvery uint64
	ticks                     uint64
	tmRuns                    uint64

	wdg     watchdog
	rc      rcInput
	sensors model.SensorData
	pm      powerModule

	// armed is the system manager's arming decision.
	armed bool
	// gcsArm is an arm override from COMMAND_LONG; nil defers to RC.
	gcsArm *bool

	outputs     model.ActuatorOutputs
	rollPID     *pidctrl.PIDController
	stabilizing bool

	enc     *mavlink.Encoder
	dec     *mavlink.Decoder
	uplink  []mavlink.Frame
	params  *paramTable
	tx, rx  chunkQueue
	homeAlt float64
	homeSet bool
}

// NewReference constructs a controller. Zero fields in cfg take defaults.
func NewReference(cfg Config) *Reference {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = def.WatchdogTimeout
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = def.SystemID
	}
	if cfg.ComponentID == 0 {
		cfg.ComponentID = def.ComponentID
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = def.QueueLimit
	}

	r := &Reference{
		cfg:     cfg,
		smEvery: every(cfg.Tick, SystemManagerHz),
		tmEvery: every(cfg.Tick, TelemetryManagerHz),
		amEvery: every(cfg.Tick, AttitudeManagerHz),
		wdg:     watchdog{timeout: cfg.WatchdogTimeout, tick: cfg.Tick},
		rc:      rcInput{roll: model.StickCenter, pitch: model.StickCenter, yaw: model.StickCenter},
		outputs: model.NeutralOutputs(),
		enc:     mavlink.NewEncoder(cfg.SystemID, cfg.ComponentID),
		dec:     mavlink.NewDecoder(nil),
		tx:      chunkQueue{limit: cfg.QueueLimit},
		rx:      chunkQueue{limit: cfg.QueueLimit},
	}
	r.params = newParamTable(r)
	return r
}

// every converts a manager rate into a tick divisor.
func every(tick time.Duration, hz int) uint64 {
	n := uint64(time.Second / time.Duration(hz) / tick)
	if n == 0 {
		return 1
	}
	return n
}

func (r *Reference) newRollPID() *pidctrl.PIDController {
	return pidctrl.NewPIDController(r.cfg.RollKp, r.cfg.RollKi, r.cfg.RollKd).
		SetOutputLimits(-model.StickCenter, model.StickCenter).
		Set(0)
}

// UpdateSensors implements FlightController.
func (r *Reference) UpdateSensors(s model.SensorData) {
	r.sensors = s
	r.pm.update(s.Fuel, s.RPM)
	if !r.homeSet {
		r.homeAlt = s.Altitude
		r.homeSet = true
	}
}

// SetRC implements FlightController.
func (r *Reference) SetRC(roll, pitch, yaw, throttle, arm float64) {
	r.rc = rcInput{roll: roll, pitch: pitch, yaw: yaw, throttle: throttle, arm: arm, fresh: true}
}

// SetBatteryCapacity implements FlightController.
func (r *Reference) SetBatteryCapacity(capacity float64) {
	r.pm.maxFuel = capacity
	r.pm.consumedMAh = 0
}

// ReceiveRadio implements FlightController.
func (r *Reference) ReceiveRadio(p []byte) {
	r.rx.push(model.RadioChunk{Direction: model.Uplink, Data: append([]byte(nil), p...)})
	r.uplink = append(r.uplink, r.dec.Ingest(p)...)
}

// Update implements FlightController.
func (r *Reference) Update() bool {
	if r.ticks%r.smEvery == 0 {
		r.systemManager()
	}
	if r.ticks%r.tmEvery == 0 {
		r.telemetryManager()
	}
	if r.ticks%r.amEvery == 0 {
		r.attitudeManager()
	}
	r.ticks++
	r.pm.integrate(r.cfg.Tick)
	return r.wdg.check()
}

// MotorOutputs implements FlightController.
func (r *Reference) MotorOutputs() model.ActuatorOutputs { return r.outputs }

// RadioLog implements FlightController.
func (r *Reference) RadioLog() []model.RadioChunk {
	return append(r.tx.drain(), r.rx.drain()...)
}

// Armed reports the controller's arming state.
func (r *Reference) Armed() bool { return r.armed }

// Uptime is the controller time since construction.
func (r *Reference) Uptime() time.Duration { return time.Duration(r.ticks) * r.cfg.Tick }

func (r *Reference) systemManager() {
	r.wdg.refresh()
	if r.gcsArm != nil {
		r.armed = *r.gcsArm
		if r.rc.fresh && r.rc.armed() == *r.gcsArm {
			// RC agrees again; hand control back to the sticks.
			r.gcsArm = nil
		}
	} else {
		r.armed = r.rc.armed()
	}
	r.rc.fresh = false
}

func (r *Reference) attitudeManager() {
	if !r.armed {
		r.outputs = model.NeutralOutputs()
		return
	}
	out := model.ActuatorOutputs{
		Roll:     r.rc.roll,
		Pitch:    r.rc.pitch,
		Yaw:      r.rc.yaw,
		Throttle: r.rc.throttle,
	}
	if r.cfg.Stabilize && math.Abs(r.rc.roll-model.StickCenter) < 2 {
		if !r.stabilizing {
			r.rollPID = r.newRollPID()
			r.stabilizing = true
		}
		dt := time.Duration(r.amEvery) * r.cfg.Tick
		rollDeg := r.sensors.Roll * 180 / math.Pi
		out.Roll = model.StickCenter + r.rollPID.UpdateDuration(rollDeg, dt)
	} else {
		r.stabilizing = false
	}
	r.outputs = clampOutputs(out)
}

func clampOutputs(o model.ActuatorOutputs) model.ActuatorOutputs {
	c := func(v float64) float64 { return math.Max(model.StickMin, math.Min(model.StickMax, v)) }
	return model.ActuatorOutputs{Roll: c(o.Roll), Pitch: c(o.Pitch), Yaw: c(o.Yaw), Throttle: c(o.Throttle)}
}
