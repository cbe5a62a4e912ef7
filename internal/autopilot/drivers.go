package autopilot

import (
	"math"
	"time"

	"github.com/signalsfoundry/flight-sitl/model"
)

// watchdog is an independent watchdog counted in controller ticks.
type watchdog struct {
	timeout time.Duration
	tick    time.Duration
	elapsed time.Duration
}

func (w *watchdog) refresh() { w.elapsed = 0 }

// check accounts one tick and reports whether the watchdog is still alive.
func (w *watchdog) check() bool {
	w.elapsed += w.tick
	return w.elapsed < w.timeout
}

// rcInput holds the latest RC channel values.
type rcInput struct {
	roll, pitch, yaw, throttle, arm float64
	fresh                           bool
}

func (rc *rcInput) armed() bool { return rc.arm > model.StickCenter }

// Power module constants for a 4S pack.
const (
	cellCount        = 4
	packMinVolts     = 14.0
	packNominalVolts = 14.8
	packMaxVolts     = 16.8
	packCapacityMAh  = 5000.0
	baseCurrentAmps  = 3.0
)

// powerModule models the battery from plant fuel and engine RPM.
type powerModule struct {
	maxFuel     float64
	fuel        float64
	rpm         float64
	consumedMAh float64
}

func (pm *powerModule) update(fuel, rpm float64) {
	pm.fuel = fuel
	pm.rpm = rpm
}

// fraction is the remaining charge in [0, 1].
func (pm *powerModule) fraction() float64 {
	if pm.maxFuel <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, pm.fuel/pm.maxFuel))
}

func (pm *powerModule) volts() float64 {
	f := pm.fraction()
	if f >= 0.2 {
		return packNominalVolts + (f-0.2)/0.8*(packMaxVolts-packNominalVolts)
	}
	return packMinVolts + f/0.2*(packNominalVolts-packMinVolts)
}

func (pm *powerModule) amps() float64 { return pm.rpm/100 + baseCurrentAmps }

// integrate accounts consumed charge over dt.
func (pm *powerModule) integrate(dt time.Duration) {
	pm.consumedMAh += pm.amps() * 1000 * dt.Hours()
}

// IMU scale factors for a ±16 g / ±2000 deg/s part.
const (
	accelLSBPerG   = 2048.0
	gyroLSBPerDegS = 16.4
)

type imuSample struct {
	xacc, yacc, zacc    int16
	xgyro, ygyro, zgyro int16
}

// imuFromAttitude synthesizes raw IMU counts for a steady attitude.
func imuFromAttitude(s model.SensorData) imuSample {
	toDeg := 180 / math.Pi
	return imuSample{
		xacc:  saturate16(-math.Sin(s.Pitch) * accelLSBPerG),
		yacc:  saturate16(math.Sin(s.Roll) * math.Cos(s.Pitch) * accelLSBPerG),
		zacc:  saturate16(-math.Cos(s.Roll) * math.Cos(s.Pitch) * accelLSBPerG),
		xgyro: saturate16(s.RollRate * toDeg * gyroLSBPerDegS),
		ygyro: saturate16(s.PitchRate * toDeg * gyroLSBPerDegS),
		zgyro: saturate16(s.YawRate * toDeg * gyroLSBPerDegS),
	}
}

func saturate16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

const gpsSatellites = 12

// gpsFix is a GPS reading in MAVLink integer units.
type gpsFix struct {
	lat, lon int32 // degE7
	altMM    int32
	velCMS   uint16
	cogCDeg  uint16
	vxCMS    int16
	vyCMS    int16
}

func gpsFromSensors(s model.SensorData) gpsFix {
	course := math.Mod(s.Course+360, 360)
	courseRad := course * math.Pi / 180
	return gpsFix{
		lat:     int32(math.Round(s.Latitude * 1e7)),
		lon:     int32(math.Round(s.Longitude * 1e7)),
		altMM:   int32(math.Round(s.Altitude * 1000)),
		velCMS:  uint16(math.Min(math.Max(s.GroundSpeed*100, 0), math.MaxUint16-1)),
		cogCDeg: uint16(math.Round(course*100)) % 36000,
		vxCMS:   saturate16(s.GroundSpeed * math.Cos(courseRad) * 100),
		vyCMS:   saturate16(s.GroundSpeed * math.Sin(courseRad) * 100),
	}
}

// chunkQueue is a bounded FIFO that drops its oldest entry on overflow.
type chunkQueue struct {
	limit   int
	items   []model.RadioChunk
	dropped uint64
}

func (q *chunkQueue) push(c model.RadioChunk) {
	q.items = append(q.items, c)
	if over := len(q.items) - q.limit; q.limit > 0 && over > 0 {
		q.items = q.items[over:]
		q.dropped += uint64(over)
	}
}

func (q *chunkQueue) drain() []model.RadioChunk {
	out := q.items
	q.items = nil
	return out
}
