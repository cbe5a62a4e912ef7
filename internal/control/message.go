// Package control parses operator control messages and applies them to the
// shared state bridge. The websocket and gRPC surfaces both go through it.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/flight-sitl/model"
)

// Message types accepted on the control channel.
const (
	TypeInit    = "init"
	TypeControl = "control"
	TypeArm     = "arm"
	TypePause   = "pause"
	TypeResume  = "resume"
	TypeState   = "state"
)

var (
	// ErrInvalidMessage reports a malformed or out-of-range control message.
	ErrInvalidMessage = errors.New("control: invalid message")
	// ErrBusy reports that a lifecycle request could not be queued.
	ErrBusy = errors.New("control: lifecycle queue full")
)

// InitConfig is the payload of an init message. Missing coordinates keep
// their defaults.
type InitConfig struct {
	model.InitialConditions
	// Paused leaves the session paused after initialization instead of
	// resuming it.
	Paused bool `json:"paused"`
}

// Validate range-checks the initial conditions.
func (c InitConfig) Validate() error {
	ic := c.InitialConditions
	for _, v := range [...]float64{ic.Latitude, ic.Longitude, ic.AltitudeFt, ic.SpeedKts, ic.Roll, ic.Pitch, ic.Heading, ic.Throttle} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite initial condition", ErrInvalidMessage)
		}
	}
	switch {
	case ic.Latitude < -90 || ic.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidMessage, ic.Latitude)
	case ic.Longitude < -180 || ic.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidMessage, ic.Longitude)
	case ic.SpeedKts < 0:
		return fmt.Errorf("%w: speed %v", ErrInvalidMessage, ic.SpeedKts)
	case ic.Throttle < model.StickMin || ic.Throttle > model.StickMax:
		return fmt.Errorf("%w: throttle %v", ErrInvalidMessage, ic.Throttle)
	}
	return nil
}

// Sticks is the payload of a control message.
type Sticks struct {
	Roll     float64
	Pitch    float64
	Yaw      float64
	Throttle float64
}

// Message is one decoded control message.
type Message struct {
	Type   string
	Config InitConfig
	Sticks Sticks
}

type wireMessage struct {
	Type     string          `json:"type"`
	Config   json.RawMessage `json:"config"`
	Roll     *float64        `json:"roll"`
	Pitch    *float64        `json:"pitch"`
	Yaw      *float64        `json:"yaw"`
	Throttle *float64        `json:"throttle"`
}

// Parse decodes and validates a JSON control message.
func Parse(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg := Message{Type: w.Type}
	switch w.Type {
	case TypeInit:
		if len(w.Config) == 0 || string(w.Config) == "null" {
			return Message{}, fmt.Errorf("%w: init without config", ErrInvalidMessage)
		}
		msg.Config = InitConfig{InitialConditions: model.DefaultInitialConditions()}
		if err := json.Unmarshal(w.Config, &msg.Config); err != nil {
			return Message{}, fmt.Errorf("%w: config: %v", ErrInvalidMessage, err)
		}
		if err := msg.Config.Validate(); err != nil {
			return Message{}, err
		}
	case TypeControl:
		if w.Roll == nil || w.Pitch == nil || w.Yaw == nil || w.Throttle == nil {
			return Message{}, fmt.Errorf("%w: control needs roll, pitch, yaw and throttle", ErrInvalidMessage)
		}
		msg.Sticks = Sticks{Roll: *w.Roll, Pitch: *w.Pitch, Yaw: *w.Yaw, Throttle: *w.Throttle}
		if err := msg.Sticks.Validate(); err != nil {
			return Message{}, err
		}
	case TypeArm, TypePause, TypeResume, TypeState:
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, w.Type)
	}
	return msg, nil
}

// Validate checks every stick is within 0–100.
func (s Sticks) Validate() error {
	for _, v := range [...]struct {
		name string
		val  float64
	}{
		{"roll", s.Roll}, {"pitch", s.Pitch}, {"yaw", s.Yaw}, {"throttle", s.Throttle},
	} {
		if math.IsNaN(v.val) || v.val < model.StickMin || v.val > model.StickMax {
			return fmt.Errorf("%w: %s %v", ErrInvalidMessage, v.name, v.val)
		}
	}
	return nil
}

// StateReply is the answer to a state request. Angles are in degrees,
// altitude in feet and airspeed in knots, the units the UI displays.
type StateReply struct {
	Roll           float64 `json:"roll"`
	Pitch          float64 `json:"pitch"`
	Yaw            float64 `json:"yaw"`
	Altitude       float64 `json:"altitude"`
	Airspeed       float64 `json:"airspeed"`
	RPM            float64 `json:"rpm"`
	RollOutput     float64 `json:"roll_output"`
	PitchOutput    float64 `json:"pitch_output"`
	YawOutput      float64 `json:"yaw_output"`
	ThrottleOutput float64 `json:"throttle_output"`
	Armed          bool    `json:"armed"`
	Seq            uint64  `json:"seq"`
	Mode           string  `json:"mode"`
}

const (
	metersToFeet = 1 / 0.3048
	mpsToKnots   = 3600.0 / 1852.0
)

// NewStateReply converts a snapshot to UI units. armed reports the
// operator's arming intent, which is current even before the scheduler has
// published a tick that carries it.
func NewStateReply(ts model.TickState, ok bool, armed bool) StateReply {
	if !ok {
		return StateReply{
			RollOutput:  model.StickCenter,
			PitchOutput: model.StickCenter,
			YawOutput:   model.StickCenter,
			Armed:       armed,
			Mode:        model.ModeUninitialized.String(),
		}
	}
	deg := 180 / math.Pi
	return StateReply{
		Roll:           ts.Roll * deg,
		Pitch:          ts.Pitch * deg,
		Yaw:            ts.Yaw * deg,
		Altitude:       ts.Altitude * metersToFeet,
		Airspeed:       ts.Airspeed * mpsToKnots,
		RPM:            ts.RPM,
		RollOutput:     ts.Outputs.Roll,
		PitchOutput:    ts.Outputs.Pitch,
		YawOutput:      ts.Outputs.Yaw,
		ThrottleOutput: ts.Outputs.Throttle,
		Armed:          armed,
		Seq:            ts.Seq,
		Mode:           ts.Mode.String(),
	}
}
