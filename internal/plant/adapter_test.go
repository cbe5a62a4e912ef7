package plant

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/flight-sitl/model"
)

type recordingModel struct {
	reset    Conditions
	controls Controls
	runs     int
	lastDt   time.Duration
	state    NativeState
}

func (m *recordingModel) Reset(ic Conditions) error { m.reset = ic; return nil }
func (m *recordingModel) SetControls(c Controls)    { m.controls = c }
func (m *recordingModel) State() NativeState        { return m.state }
func (m *recordingModel) Run(dt time.Duration) error {
	m.runs++
	m.lastDt = dt
	return nil
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAdapterRequiresInitialize(t *testing.T) {
	a := NewAdapter(&recordingModel{}, time.Millisecond)
	if err := a.Advance(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Advance err = %v, want ErrNotInitialized", err)
	}
	if _, err := a.State(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("State err = %v, want ErrNotInitialized", err)
	}
}

func TestAdapterInitializeMapsConditions(t *testing.T) {
	m := &recordingModel{}
	a := NewAdapter(m, time.Millisecond)
	ic := model.InitialConditions{
		Latitude: 37.4, Longitude: -122.1, AltitudeFt: 2500, SpeedKts: 110,
		Heading: 90, EngineOn: true, Throttle: 20,
	}
	if err := a.Initialize(ic); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if !m.reset.EngineOn || !approx(m.reset.Throttle, 0.2) || m.reset.AltitudeFt != 2500 {
		t.Fatalf("reset conditions = %+v", m.reset)
	}
	if !a.Initialized() {
		t.Fatalf("Initialized = false after Initialize")
	}
}

func TestAdapterInitializeRejectsOutOfRange(t *testing.T) {
	cases := []model.InitialConditions{
		{Latitude: 91},
		{Longitude: -181},
		{SpeedKts: -1},
		{Throttle: 120},
	}
	for _, ic := range cases {
		a := NewAdapter(&recordingModel{}, time.Millisecond)
		if err := a.Initialize(ic); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Initialize(%+v) err = %v, want ErrOutOfRange", ic, err)
		}
	}
}

func TestAdapterSetActuatorsMapping(t *testing.T) {
	m := &recordingModel{}
	a := NewAdapter(m, time.Millisecond)

	if err := a.SetActuators(model.ActuatorOutputs{Roll: 100, Pitch: 75, Yaw: 0, Throttle: 40}); err != nil {
		t.Fatalf("SetActuators error: %v", err)
	}
	c := m.controls
	if !approx(c.Aileron, 1) || !approx(c.Elevator, -0.5) || !approx(c.Rudder, 1) || !approx(c.Throttle, 0.4) {
		t.Fatalf("controls = %+v, want aileron 1, elevator -0.5, rudder 1, throttle 0.4", c)
	}

	if err := a.SetActuators(model.NeutralOutputs()); err != nil {
		t.Fatalf("SetActuators neutral error: %v", err)
	}
	if c := m.controls; c.Aileron != 0 || c.Elevator != 0 || c.Rudder != 0 || c.Throttle != 0 {
		t.Fatalf("neutral controls = %+v, want zero surfaces", c)
	}
}

func TestAdapterSetActuatorsRejectsOutOfRange(t *testing.T) {
	a := NewAdapter(&recordingModel{}, time.Millisecond)
	bad := []model.ActuatorOutputs{
		{Roll: -1, Pitch: 50, Yaw: 50},
		{Roll: 50, Pitch: 101, Yaw: 50},
		{Roll: 50, Pitch: 50, Yaw: math.NaN()},
		{Roll: 50, Pitch: 50, Yaw: 50, Throttle: 100.5},
	}
	for _, out := range bad {
		if err := a.SetActuators(out); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("SetActuators(%+v) err = %v, want ErrOutOfRange", out, err)
		}
	}
}

func TestAdapterStateConvertsUnits(t *testing.T) {
	m := &recordingModel{state: NativeState{
		PsiRad:         -math.Pi / 2,
		AltitudeFt:     1000,
		GroundSpeedFps: 100,
		AirspeedKts:    100,
		FuelLbs:        250,
		RPM:            2400,
	}}
	a := NewAdapter(m, time.Millisecond)
	if err := a.Initialize(model.DefaultInitialConditions()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := a.Advance(); err != nil {
		t.Fatalf("Advance error: %v", err)
	}
	if m.runs != 1 || m.lastDt != time.Millisecond {
		t.Fatalf("runs = %d dt = %v, want 1 run of 1ms", m.runs, m.lastDt)
	}

	s, err := a.State()
	if err != nil {
		t.Fatalf("State error: %v", err)
	}
	if !approx(s.Altitude, 304.8) {
		t.Fatalf("Altitude = %v m, want 304.8", s.Altitude)
	}
	if !approx(s.GroundSpeed, 30.48) {
		t.Fatalf("GroundSpeed = %v m/s, want 30.48", s.GroundSpeed)
	}
	if math.Abs(s.Airspeed-51.4444) > 1e-3 {
		t.Fatalf("Airspeed = %v m/s, want ~51.444", s.Airspeed)
	}
	if !approx(s.Heading, 270) {
		t.Fatalf("Heading = %v, want 270", s.Heading)
	}
	if s.Fuel != 250 || s.RPM != 2400 {
		t.Fatalf("fuel/rpm = %v/%v, want 250/2400", s.Fuel, s.RPM)
	}
}
