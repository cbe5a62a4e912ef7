package model

// Stick positions are normalized to 0–100. Roll, pitch and yaw are centered at
// 50; throttle is 0 at idle.
const (
	StickMin    = 0.0
	StickCenter = 50.0
	StickMax    = 100.0
)

// OperatorCommand is the operator's latest intent. Last write wins.
type OperatorCommand struct {
	Roll     float64
	Pitch    float64
	Yaw      float64
	Throttle float64
	Armed    bool
}

// DefaultCommand returns sticks centered, throttle idle, disarmed.
func DefaultCommand() OperatorCommand {
	return OperatorCommand{
		Roll:  StickCenter,
		Pitch: StickCenter,
		Yaw:   StickCenter,
	}
}

// ArmValue is the RC arm channel value for the command.
func (c OperatorCommand) ArmValue() float64 {
	if c.Armed {
		return StickMax
	}
	return StickMin
}

// ActuatorOutputs are the four autopilot outputs, 0–100. Roll, pitch and yaw
// are centered at 50; throttle is asymmetric.
type ActuatorOutputs struct {
	Roll     float64
	Pitch    float64
	Yaw      float64
	Throttle float64
}

// NeutralOutputs centers the control surfaces with the throttle closed.
func NeutralOutputs() ActuatorOutputs {
	return ActuatorOutputs{Roll: StickCenter, Pitch: StickCenter, Yaw: StickCenter}
}

// InitialConditions seed the plant. Altitude and speed are given in the units
// the operator UI uses (feet, knots).
type InitialConditions struct {
	Latitude   float64 `json:"latitude" yaml:"latitude"`
	Longitude  float64 `json:"longitude" yaml:"longitude"`
	AltitudeFt float64 `json:"altitude" yaml:"altitudeFt"`
	SpeedKts   float64 `json:"speed" yaml:"speedKts"`
	Roll       float64 `json:"roll" yaml:"roll"`       // deg
	Pitch      float64 `json:"pitch" yaml:"pitch"`     // deg
	Heading    float64 `json:"heading" yaml:"heading"` // deg
	EngineOn   bool    `json:"engine" yaml:"engine"`
	Throttle   float64 `json:"throttle" yaml:"throttle"` // 0–100
}

// DefaultInitialConditions match the UI defaults.
func DefaultInitialConditions() InitialConditions {
	return InitialConditions{Latitude: 37.4, Longitude: -122.1}
}
