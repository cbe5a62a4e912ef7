package flightgear

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/signalsfoundry/flight-sitl/model"
)

const (
	metersToFeet = 1 / 0.3048
	mpsToKnots   = 3600.0 / 1852.0
)

// chunk is one comma-separated field of the generic protocol line.
type chunk struct {
	Name   string
	Node   string
	Format string
	value  func(cur, prev model.TickState, dt float64) float64
}

// surface maps a 0–100 actuator output to a -1..1 deflection.
func surface(v float64) float64 { return (v - model.StickCenter) / (model.StickMax - model.StickCenter) }

// chunks is the field order of every line and of the directive file.
var chunks = []chunk{
	{Name: "longitude", Node: "/position/longitude-deg", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Longitude }},
	{Name: "latitude", Node: "/position/latitude-deg", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Latitude }},
	{Name: "altitude", Node: "/position/altitude-ft", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Altitude * metersToFeet }},
	{Name: "roll", Node: "/orientation/roll-deg", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Roll * 180 / math.Pi }},
	{Name: "pitch", Node: "/orientation/pitch-deg", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Pitch * 180 / math.Pi }},
	{Name: "heading", Node: "/orientation/heading-deg", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Heading }},
	{Name: "airspeed", Node: "/velocities/airspeed-kt", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Airspeed * mpsToKnots }},
	{Name: "vertical-speed", Node: "/velocities/vertical-speed-fps", Format: "%f",
		value: func(c, p model.TickState, dt float64) float64 {
			if dt <= 0 {
				return 0
			}
			return (c.Altitude - p.Altitude) * metersToFeet / dt
		}},
	{Name: "rpm", Node: "/engines/engine/rpm", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.RPM }},
	{Name: "elevator", Node: "/surface-positions/elevator-pos-norm", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return -surface(c.Outputs.Pitch) }},
	{Name: "left-aileron", Node: "/surface-positions/left-aileron-pos-norm", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return surface(c.Outputs.Roll) }},
	{Name: "right-aileron", Node: "/surface-positions/right-aileron-pos-norm", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return -surface(c.Outputs.Roll) }},
	{Name: "rudder", Node: "/surface-positions/rudder-pos-norm", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return -surface(c.Outputs.Yaw) }},
	{Name: "throttle", Node: "/controls/engines/engine/throttle", Format: "%f",
		value: func(c, _ model.TickState, _ float64) float64 { return c.Outputs.Throttle / model.StickMax }},
}

// AppendLine appends one generic-protocol line for cur. prev and dt (in
// seconds since prev) feed derived rates.
func AppendLine(dst []byte, cur, prev model.TickState, dt float64) []byte {
	for i, c := range chunks {
		if i > 0 {
			dst = append(dst, ',')
		}
		v := c.value(cur, prev, dt)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		dst = strconv.AppendFloat(dst, v, 'f', 6, 64)
	}
	return append(dst, '\n')
}

type xmlChunk struct {
	Name   string `xml:"name"`
	Type   string `xml:"type"`
	Format string `xml:"format"`
	Node   string `xml:"node"`
}

type xmlProtocol struct {
	XMLName xml.Name `xml:"PropertyList"`
	Generic struct {
		Input struct {
			LineSeparator string     `xml:"line_separator"`
			VarSeparator  string     `xml:"var_separator"`
			Chunks        []xmlChunk `xml:"chunk"`
		} `xml:"input"`
	} `xml:"generic"`
}

// Directive renders the generic protocol definition FlightGear needs to
// read the output stream.
func Directive() ([]byte, error) {
	var p xmlProtocol
	p.Generic.Input.LineSeparator = "newline"
	p.Generic.Input.VarSeparator = ","
	for _, c := range chunks {
		p.Generic.Input.Chunks = append(p.Generic.Input.Chunks, xmlChunk{
			Name: c.Name, Type: "float", Format: c.Format, Node: c.Node,
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("flightgear: encoding directive: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteDirective writes the protocol definition to a new temporary file in
// dir (the system temp dir when empty). The caller must call cleanup on
// every exit path.
func WriteDirective(dir string) (path string, cleanup func() error, err error) {
	data, err := Directive()
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(dir, "sitl-fgfs-*.xml")
	if err != nil {
		return "", nil, fmt.Errorf("flightgear: creating directive: %w", err)
	}
	path = f.Name()
	cleanup = func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = cleanup()
		return "", nil, fmt.Errorf("flightgear: writing directive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = cleanup()
		return "", nil, fmt.Errorf("flightgear: closing directive: %w", err)
	}
	return path, cleanup, nil
}
