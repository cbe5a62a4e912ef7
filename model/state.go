package model

import "time"

// Mode is the scheduler lifecycle mode.
type Mode int

const (
	// ModeUninitialized means no initial conditions have been applied yet.
	ModeUninitialized Mode = iota
	// ModePaused keeps the autopilot fed with sensors but does not advance the plant.
	ModePaused
	// ModeRunning advances both autopilot and plant every tick.
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModePaused:
		return "paused"
	case ModeRunning:
		return "running"
	default:
		return "uninitialized"
	}
}

// TickState is the snapshot published once per scheduler tick. It is a value
// type; the bridge hands out copies and never mutates a published snapshot.
type TickState struct {
	// Seq increases by one for every published tick.
	Seq uint64
	// SimTime is the simulated time advanced by the plant.
	SimTime time.Duration
	Mode    Mode

	Roll  float64 // rad
	Pitch float64 // rad
	Yaw   float64 // rad

	RollRate  float64 // rad/s
	PitchRate float64 // rad/s
	YawRate   float64 // rad/s

	Latitude    float64 // deg
	Longitude   float64 // deg
	Altitude    float64 // m above sea level
	GroundSpeed float64 // m/s
	Airspeed    float64 // m/s, calibrated
	Heading     float64 // deg

	// Fuel is the remaining fuel in the plant's native mass unit (lbs).
	Fuel float64
	RPM  float64

	Outputs ActuatorOutputs
	Armed   bool
}

// PlantState is the plant state after unit conversion at the plant boundary.
type PlantState struct {
	SimTime time.Duration

	Roll, Pitch, Yaw             float64 // rad
	RollRate, PitchRate, YawRate float64 // rad/s
	Latitude, Longitude          float64 // deg
	Altitude                     float64 // m
	GroundSpeed, Airspeed        float64 // m/s
	Heading                      float64 // deg
	Fuel                         float64 // lbs
	RPM                          float64
}

// SensorData is the twelve-scalar sensor set fed to the autopilot.
type SensorData struct {
	Roll, Pitch                  float64 // rad
	RollRate, PitchRate, YawRate float64 // rad/s
	Latitude, Longitude          float64 // deg
	Altitude                     float64 // m
	GroundSpeed                  float64 // m/s
	Course                       float64 // deg
	Fuel                         float64 // lbs
	RPM                          float64
}

// SensorsFromPlant derives the autopilot sensor set from plant state.
func SensorsFromPlant(p PlantState) SensorData {
	return SensorData{
		Roll:        p.Roll,
		Pitch:       p.Pitch,
		RollRate:    p.RollRate,
		PitchRate:   p.PitchRate,
		YawRate:     p.YawRate,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Altitude:    p.Altitude,
		GroundSpeed: p.GroundSpeed,
		Course:      p.Heading,
		Fuel:        p.Fuel,
		RPM:         p.RPM,
	}
}
