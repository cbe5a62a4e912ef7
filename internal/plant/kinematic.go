package plant

import (
	"math"
	"time"
)

const (
	gravityFps2     = 32.174
	earthRadiusFt   = 20902231.0
	ktsToFps        = 1.687810
	maxRollRate     = 1.2  // rad/s at full aileron
	maxPitchRate    = 0.4  // rad/s at full elevator
	maxRudderRate   = 0.15 // rad/s at full rudder
	maxBank         = 60 * math.Pi / 180
	maxPitch        = 30 * math.Pi / 180
	idleRPM         = 700.0
	maxRPM          = 2700.0
	rpmTimeConstant = 0.8   // s
	thrustAccel     = 9.0   // kts/s at full throttle
	dragCoeff       = 0.0006 // kts/s per kt^2
	fuelFlowMax     = 0.014  // lbs/s at full throttle
)

// KinematicConfig parameterizes the reference model.
type KinematicConfig struct {
	// FuelLbs is the fuel loaded on every Reset.
	FuelLbs float64
	// GroundElevationFt is the terrain height the model cannot descend below.
	GroundElevationFt float64
}

// DefaultKinematicConfig loads two 150 lb tanks at sea level.
func DefaultKinematicConfig() KinematicConfig {
	return KinematicConfig{FuelLbs: 300}
}

// Kinematic is a point-mass fixed-wing model: surfaces command body rates,
// throttle drives engine RPM and thrust against quadratic drag, and turns
// are coordinated from bank angle. It stands in for a full flight-dynamics
// engine and is not aerodynamically faithful.
type Kinematic struct {
	cfg      KinematicConfig
	controls Controls
	state    NativeState
	running  bool
}

// NewKinematic returns an unset model; call Reset before Run.
func NewKinematic(cfg KinematicConfig) *Kinematic {
	return &Kinematic{cfg: cfg}
}

// Reset implements Model.
func (k *Kinematic) Reset(ic Conditions) error {
	k.running = ic.EngineOn
	k.controls = Controls{Throttle: ic.Throttle}
	if ic.EngineOn {
		k.controls.Mixture = 1
	}
	k.state = NativeState{
		PhiRad:       ic.RollDeg * math.Pi / 180,
		ThetaRad:     ic.PitchDeg * math.Pi / 180,
		PsiRad:       wrapRad(ic.HeadingDeg * math.Pi / 180),
		LatitudeDeg:  ic.LatitudeDeg,
		LongitudeDeg: ic.LongitudeDeg,
		AltitudeFt:   math.Max(ic.AltitudeFt, k.cfg.GroundElevationFt),
		AirspeedKts:  ic.AirspeedKts,
		FuelLbs:      k.cfg.FuelLbs,
	}
	if k.running {
		k.state.RPM = idleRPM + ic.Throttle*(maxRPM-idleRPM)
	}
	k.state.GroundSpeedFps = ic.AirspeedKts * ktsToFps * math.Cos(k.state.ThetaRad)
	return nil
}

// SetControls implements Model.
func (k *Kinematic) SetControls(c Controls) { k.controls = c }

// State implements Model.
func (k *Kinematic) State() NativeState { return k.state }

// Run implements Model.
func (k *Kinematic) Run(dt time.Duration) error {
	h := dt.Seconds()
	s := &k.state
	c := k.controls

	if s.FuelLbs <= 0 || c.Mixture <= 0 {
		k.running = false
	}

	// Engine spools toward the throttle setting with a first-order lag.
	targetRPM := 0.0
	if k.running {
		targetRPM = idleRPM + clamp(c.Throttle, 0, 1)*(maxRPM-idleRPM)
	}
	s.RPM += (targetRPM - s.RPM) * math.Min(h/rpmTimeConstant, 1)

	thrust := 0.0
	if k.running {
		thrust = thrustAccel * (s.RPM - idleRPM) / (maxRPM - idleRPM)
		s.FuelLbs = math.Max(0, s.FuelLbs-fuelFlowMax*clamp(c.Throttle, 0, 1)*h)
	}

	s.P = clamp(c.Aileron, -1, 1) * maxRollRate
	s.Q = -clamp(c.Elevator, -1, 1) * maxPitchRate
	s.PhiRad = clamp(s.PhiRad+s.P*h, -maxBank, maxBank)
	s.ThetaRad = clamp(s.ThetaRad+s.Q*h, -maxPitch, maxPitch)
	if s.AltitudeFt <= k.cfg.GroundElevationFt && s.ThetaRad < 0 {
		s.ThetaRad = 0
	}

	vFps := s.AirspeedKts * ktsToFps
	s.R = -clamp(c.Rudder, -1, 1) * maxRudderRate
	if vFps > 1 {
		s.R += gravityFps2 * math.Tan(s.PhiRad) / vFps
	}
	s.PsiRad = wrapRad(s.PsiRad + s.R*h)

	climbDecel := gravityFps2 * math.Sin(s.ThetaRad) / ktsToFps
	accel := thrust - dragCoeff*s.AirspeedKts*s.AirspeedKts - climbDecel
	s.AirspeedKts = math.Max(0, s.AirspeedKts+accel*h)

	vFps = s.AirspeedKts * ktsToFps
	s.AltitudeFt += vFps * math.Sin(s.ThetaRad) * h
	if s.AltitudeFt < k.cfg.GroundElevationFt {
		s.AltitudeFt = k.cfg.GroundElevationFt
		if s.ThetaRad < 0 {
			s.ThetaRad = 0
		}
	}

	s.GroundSpeedFps = vFps * math.Cos(s.ThetaRad)
	north := s.GroundSpeedFps * math.Cos(s.PsiRad) * h
	east := s.GroundSpeedFps * math.Sin(s.PsiRad) * h
	latRad := s.LatitudeDeg * math.Pi / 180
	s.LatitudeDeg += north / earthRadiusFt * 180 / math.Pi
	if cos := math.Cos(latRad); cos > 1e-6 {
		s.LongitudeDeg += east / (earthRadiusFt * cos) * 180 / math.Pi
	}

	s.SimTime += dt
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapRad(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
