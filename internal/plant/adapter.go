package plant

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/flight-sitl/model"
)

// Unit conversions applied at the plant boundary.
const (
	FeetToMeters = 0.3048
	KnotsToMPS   = 1852.0 / 3600.0
)

var (
	// ErrNotInitialized is returned by Advance and State before Initialize.
	ErrNotInitialized = errors.New("plant: not initialized")
	// ErrOutOfRange reports an input outside its documented range.
	ErrOutOfRange = errors.New("plant: value out of range")
)

// Adapter drives a Model one fixed period at a time and converts between
// the model's native units and the harness's SI snapshot.
type Adapter struct {
	model       Model
	period      time.Duration
	initialized bool
}

// NewAdapter wraps m, advancing it by period on every Advance.
func NewAdapter(m Model, period time.Duration) *Adapter {
	return &Adapter{model: m, period: period}
}

// Period is the fixed step length.
func (a *Adapter) Period() time.Duration { return a.period }

// Initialized reports whether initial conditions have been applied.
func (a *Adapter) Initialized() bool { return a.initialized }

// Initialize validates ic and resets the model to it.
func (a *Adapter) Initialize(ic model.InitialConditions) error {
	switch {
	case ic.Latitude < -90 || ic.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrOutOfRange, ic.Latitude)
	case ic.Longitude < -180 || ic.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrOutOfRange, ic.Longitude)
	case ic.SpeedKts < 0:
		return fmt.Errorf("%w: speed %v", ErrOutOfRange, ic.SpeedKts)
	case ic.Throttle < model.StickMin || ic.Throttle > model.StickMax:
		return fmt.Errorf("%w: throttle %v", ErrOutOfRange, ic.Throttle)
	}
	err := a.model.Reset(Conditions{
		LatitudeDeg:  ic.Latitude,
		LongitudeDeg: ic.Longitude,
		AltitudeFt:   ic.AltitudeFt,
		AirspeedKts:  ic.SpeedKts,
		RollDeg:      ic.Roll,
		PitchDeg:     ic.Pitch,
		HeadingDeg:   ic.Heading,
		EngineOn:     ic.EngineOn,
		Throttle:     ic.Throttle / model.StickMax,
	})
	if err != nil {
		return fmt.Errorf("plant reset: %w", err)
	}
	a.initialized = true
	return nil
}

// SetActuators maps autopilot outputs onto model controls. Roll, pitch and
// yaw are centered at 50; pitch and yaw are inverted to model convention.
func (a *Adapter) SetActuators(out model.ActuatorOutputs) error {
	for _, v := range [...]struct {
		name string
		val  float64
	}{
		{"roll", out.Roll}, {"pitch", out.Pitch}, {"yaw", out.Yaw}, {"throttle", out.Throttle},
	} {
		if math.IsNaN(v.val) || v.val < model.StickMin || v.val > model.StickMax {
			return fmt.Errorf("%w: %s output %v", ErrOutOfRange, v.name, v.val)
		}
	}
	a.model.SetControls(Controls{
		Aileron:  (out.Roll - model.StickCenter) / model.StickCenter,
		Elevator: -(out.Pitch - model.StickCenter) / model.StickCenter,
		Rudder:   -(out.Yaw - model.StickCenter) / model.StickCenter,
		Throttle: out.Throttle / model.StickMax,
		Mixture:  1,
	})
	return nil
}

// Advance integrates the model by exactly one period.
func (a *Adapter) Advance() error {
	if !a.initialized {
		return ErrNotInitialized
	}
	return a.model.Run(a.period)
}

// State reads the model and converts it to SI.
func (a *Adapter) State() (model.PlantState, error) {
	if !a.initialized {
		return model.PlantState{}, ErrNotInitialized
	}
	return ToPlantState(a.model.State()), nil
}

// ToPlantState converts a native state vector to SI units.
func ToPlantState(s NativeState) model.PlantState {
	return model.PlantState{
		SimTime:     s.SimTime,
		Roll:        s.PhiRad,
		Pitch:       s.ThetaRad,
		Yaw:         s.PsiRad,
		RollRate:    s.P,
		PitchRate:   s.Q,
		YawRate:     s.R,
		Latitude:    s.LatitudeDeg,
		Longitude:   s.LongitudeDeg,
		Altitude:    s.AltitudeFt * FeetToMeters,
		GroundSpeed: s.GroundSpeedFps * FeetToMeters,
		Airspeed:    s.AirspeedKts * KnotsToMPS,
		Heading:     normalizeDeg(s.PsiRad * 180 / math.Pi),
		Fuel:        s.FuelLbs,
		RPM:         s.RPM,
	}
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
