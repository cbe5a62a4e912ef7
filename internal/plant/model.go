// Package plant wraps a flight-dynamics model behind the narrow contract the
// step scheduler drives: set actuators, advance one period, read state.
//
// Models speak their own native units (feet, feet per second, knots,
// pounds). The Adapter is the only place those are converted to SI.
package plant

import "time"

// Controls are normalized flight-control commands in model convention:
// surfaces in [-1, 1] and throttle/mixture in [0, 1]. Positive elevator is
// trailing edge down (nose down); positive rudder yaws left.
type Controls struct {
	Aileron  float64
	Elevator float64
	Rudder   float64
	Throttle float64
	Mixture  float64
}

// Conditions are initial conditions in native units.
type Conditions struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeFt   float64
	AirspeedKts  float64
	RollDeg      float64
	PitchDeg     float64
	HeadingDeg   float64
	EngineOn     bool
	// Throttle is normalized to [0, 1].
	Throttle float64
}

// NativeState is the model's state vector in native units.
type NativeState struct {
	SimTime time.Duration

	PhiRad, ThetaRad, PsiRad float64
	P, Q, R                  float64 // rad/s body rates

	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeFt   float64 // above sea level

	GroundSpeedFps float64
	AirspeedKts    float64 // calibrated

	FuelLbs float64
	RPM     float64
}

// Model is an opaque flight-dynamics integrator.
type Model interface {
	// Reset applies initial conditions and re-runs trim.
	Reset(ic Conditions) error
	SetControls(c Controls)
	// Run integrates forward by dt.
	Run(dt time.Duration) error
	State() NativeState
}
