// Package autopilot wraps an external flight controller behind the
// sensor-in / actuator-out contract the step scheduler drives.
package autopilot

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/flight-sitl/model"
)

var (
	// ErrWatchdogTimeout is returned by Advance when the controller reports
	// that its watchdog expired. It is fatal for the session.
	ErrWatchdogTimeout = errors.New("autopilot: watchdog timeout")
	// ErrOutOfRange reports a command or output outside 0–100.
	ErrOutOfRange = errors.New("autopilot: value out of range")
	// ErrInvalidSensor reports a NaN or infinite sensor value.
	ErrInvalidSensor = errors.New("autopilot: invalid sensor value")
)

// FlightController is the opaque autopilot. Every method is synchronous and
// bounded; Update advances the controller by one fixed tick.
type FlightController interface {
	UpdateSensors(s model.SensorData)
	// SetRC feeds the five RC channels: four axes in 0–100 and the arm
	// channel (100 armed, 0 disarmed).
	SetRC(roll, pitch, yaw, throttle, arm float64)
	SetBatteryCapacity(capacity float64)
	// ReceiveRadio delivers bytes arriving on the controller's radio.
	ReceiveRadio(p []byte)
	// Update runs one tick. It returns false when the watchdog expired.
	Update() bool
	MotorOutputs() model.ActuatorOutputs
	// RadioLog drains radio traffic recorded since the last call, transmitted
	// chunks first.
	RadioLog() []model.RadioChunk
}

// Adapter validates values crossing the autopilot boundary. It holds no
// state of its own beyond the wrapped controller.
type Adapter struct {
	fc FlightController
}

// NewAdapter wraps fc.
func NewAdapter(fc FlightController) *Adapter {
	return &Adapter{fc: fc}
}

// PushSensors feeds the twelve sensor scalars.
func (a *Adapter) PushSensors(s model.SensorData) error {
	for _, v := range [...]float64{
		s.Roll, s.Pitch, s.RollRate, s.PitchRate, s.YawRate,
		s.Latitude, s.Longitude, s.Altitude, s.GroundSpeed, s.Course,
		s.Fuel, s.RPM,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %+v", ErrInvalidSensor, s)
		}
	}
	a.fc.UpdateSensors(s)
	return nil
}

// PushCommand feeds the operator command as RC channels.
func (a *Adapter) PushCommand(cmd model.OperatorCommand) error {
	if err := checkStick("roll", cmd.Roll); err != nil {
		return err
	}
	if err := checkStick("pitch", cmd.Pitch); err != nil {
		return err
	}
	if err := checkStick("yaw", cmd.Yaw); err != nil {
		return err
	}
	if err := checkStick("throttle", cmd.Throttle); err != nil {
		return err
	}
	a.fc.SetRC(cmd.Roll, cmd.Pitch, cmd.Yaw, cmd.Throttle, cmd.ArmValue())
	return nil
}

// PushUplink delivers radio bytes to the controller.
func (a *Adapter) PushUplink(p []byte) {
	if len(p) == 0 {
		return
	}
	a.fc.ReceiveRadio(p)
}

// SetBatteryCapacity maps plant fuel onto the controller's battery model.
func (a *Adapter) SetBatteryCapacity(fuel float64) error {
	if math.IsNaN(fuel) || fuel < 0 {
		return fmt.Errorf("%w: battery capacity %v", ErrOutOfRange, fuel)
	}
	a.fc.SetBatteryCapacity(fuel)
	return nil
}

// Advance runs one controller tick.
func (a *Adapter) Advance() error {
	if !a.fc.Update() {
		return ErrWatchdogTimeout
	}
	return nil
}

// Outputs reads the four actuator outputs.
func (a *Adapter) Outputs() (model.ActuatorOutputs, error) {
	out := a.fc.MotorOutputs()
	for _, v := range [...]struct {
		name string
		val  float64
	}{
		{"roll", out.Roll}, {"pitch", out.Pitch}, {"yaw", out.Yaw}, {"throttle", out.Throttle},
	} {
		if err := checkStick(v.name+" output", v.val); err != nil {
			return model.ActuatorOutputs{}, err
		}
	}
	return out, nil
}

// DrainTelemetry returns radio traffic recorded since the last call.
func (a *Adapter) DrainTelemetry() []model.RadioChunk {
	return a.fc.RadioLog()
}

func checkStick(name string, v float64) error {
	if math.IsNaN(v) || v < model.StickMin || v > model.StickMax {
		return fmt.Errorf("%w: %s %v", ErrOutOfRange, name, v)
	}
	return nil
}
