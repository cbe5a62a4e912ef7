package autopilot

import (
	"math"

	"github.com/signalsfoundry/flight-sitl/internal/mavlink"
	"github.com/signalsfoundry/flight-sitl/model"
)

// MAVLink enum values used by the telemetry manager.
const (
	mavTypeFixedWing     = 1
	mavAutopilotGeneric  = 0
	mavModeFlagArmed     = 0x80
	mavModeFlagCustom    = 0x01
	mavStateStandby      = 3
	mavStateActive       = 4
	mavParamTypeReal32   = 9
	mavCmdArmDisarm      = 400
	mavResultAccepted    = 0
	mavResultUnsupported = 3
	heartbeatEveryTM     = TelemetryManagerHz // once per second
)

type param struct {
	name string
	get  func() float64
	set  func(float64)
}

// paramTable exposes tunables over PARAM_* messages in a fixed order.
type paramTable struct {
	list []param
}

func newParamTable(r *Reference) *paramTable {
	rebuildPID := func() { r.stabilizing = false }
	flag := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	return &paramTable{list: []param{
		{"ROLL_KP", func() float64 { return r.cfg.RollKp }, func(v float64) { r.cfg.RollKp = v; rebuildPID() }},
		{"ROLL_KI", func() float64 { return r.cfg.RollKi }, func(v float64) { r.cfg.RollKi = v; rebuildPID() }},
		{"ROLL_KD", func() float64 { return r.cfg.RollKd }, func(v float64) { r.cfg.RollKd = v; rebuildPID() }},
		{"STAB_ENABLE", func() float64 { return flag(r.cfg.Stabilize) }, func(v float64) { r.cfg.Stabilize = v >= 0.5 }},
		{"BATT_CAPACITY", func() float64 { return packCapacityMAh }, nil},
		{"WDG_TIMEOUT_MS", func() float64 { return float64(r.cfg.WatchdogTimeout.Milliseconds()) }, nil},
	}}
}

func (t *paramTable) find(name string) (int, *param) {
	for i := range t.list {
		if t.list[i].name == name {
			return i, &t.list[i]
		}
	}
	return -1, nil
}

// telemetryManager handles pending uplink and emits one telemetry burst.
func (r *Reference) telemetryManager() {
	var burst []byte
	emit := func(msgID uint32, values map[string]any) {
		frame, err := r.enc.EncodeFields(msgID, values)
		if err != nil {
			return
		}
		burst = append(burst, frame...)
	}

	for _, f := range r.uplink {
		r.handleUplink(f, emit)
	}
	r.uplink = r.uplink[:0]

	if r.tmRuns%heartbeatEveryTM == 0 {
		emit(mavlink.MsgHeartbeat, r.heartbeat())
	}
	r.tmRuns++

	s := r.sensors
	bootMS := uint32(r.Uptime().Milliseconds())
	gps := gpsFromSensors(s)
	imu := imuFromAttitude(s)
	courseRad := s.Course * math.Pi / 180

	emit(mavlink.MsgAttitude, map[string]any{
		"time_boot_ms": bootMS,
		"roll":         s.Roll,
		"pitch":        s.Pitch,
		"yaw":          courseRad,
		"rollspeed":    s.RollRate,
		"pitchspeed":   s.PitchRate,
		"yawspeed":     s.YawRate,
	})
	emit(mavlink.MsgGlobalPositionInt, map[string]any{
		"time_boot_ms": bootMS,
		"lat":          gps.lat,
		"lon":          gps.lon,
		"alt":          gps.altMM,
		"relative_alt": int32(math.Round((s.Altitude - r.homeAlt) * 1000)),
		"vx":           gps.vxCMS,
		"vy":           gps.vyCMS,
		"hdg":          gps.cogCDeg,
	})
	emit(mavlink.MsgGPSRawInt, map[string]any{
		"time_usec":          uint64(r.Uptime().Microseconds()),
		"lat":                gps.lat,
		"lon":                gps.lon,
		"alt":                gps.altMM,
		"eph":                100,
		"epv":                150,
		"vel":                gps.velCMS,
		"cog":                gps.cogCDeg,
		"fix_type":           3,
		"satellites_visible": gpsSatellites,
	})
	emit(mavlink.MsgRawIMU, map[string]any{
		"time_usec": uint64(r.Uptime().Microseconds()),
		"xacc":      imu.xacc,
		"yacc":      imu.yacc,
		"zacc":      imu.zacc,
		"xgyro":     imu.xgyro,
		"ygyro":     imu.ygyro,
		"zgyro":     imu.zgyro,
	})
	emit(mavlink.MsgRCChannels, r.rcChannels(bootMS))
	emit(mavlink.MsgVFRHUD, map[string]any{
		"airspeed":    s.GroundSpeed,
		"groundspeed": s.GroundSpeed,
		"alt":         s.Altitude,
		"climb":       0,
		"heading":     int16(math.Mod(s.Course+360, 360)),
		"throttle":    uint16(r.outputs.Throttle),
	})
	emit(mavlink.MsgBatteryStatus, r.batteryStatus())

	r.transmit(burst)
}

func (r *Reference) heartbeat() map[string]any {
	mode, status := uint8(mavModeFlagCustom), uint8(mavStateStandby)
	if r.armed {
		mode |= mavModeFlagArmed
		status = mavStateActive
	}
	return map[string]any{
		"type":            mavTypeFixedWing,
		"autopilot":       mavAutopilotGeneric,
		"base_mode":       mode,
		"system_status":   status,
		"mavlink_version": 3,
	}
}

// rcChannels reports the five RC inputs as 1000–2000 µs pulse widths.
func (r *Reference) rcChannels(bootMS uint32) map[string]any {
	pwm := func(v float64) uint16 { return uint16(1000 + math.Round(v*10)) }
	return map[string]any{
		"time_boot_ms": bootMS,
		"chan1_raw":    pwm(r.rc.roll),
		"chan2_raw":    pwm(r.rc.pitch),
		"chan3_raw":    pwm(r.rc.throttle),
		"chan4_raw":    pwm(r.rc.yaw),
		"chan5_raw":    pwm(r.rc.arm),
		"chancount":    5,
		"rssi":         255,
	}
}

func (r *Reference) batteryStatus() map[string]any {
	voltages := make([]any, 10)
	cellMV := r.pm.volts() / cellCount * 1000
	for i := range voltages {
		if i < cellCount {
			voltages[i] = uint16(cellMV)
		} else {
			voltages[i] = uint16(math.MaxUint16)
		}
	}
	return map[string]any{
		"current_consumed":  int32(r.pm.consumedMAh),
		"energy_consumed":   -1,
		"temperature":       math.MaxInt16,
		"voltages":          voltages,
		"current_battery":   int16(r.pm.amps() * 100),
		"id":                0,
		"battery_function":  1,
		"type":              1,
		"battery_remaining": int8(math.Round(r.pm.fraction() * 100)),
	}
}

// transmit queues a burst, split at the radio MTU when one is configured.
func (r *Reference) transmit(burst []byte) {
	if len(burst) == 0 {
		return
	}
	mtu := r.cfg.RadioMTU
	if mtu <= 0 {
		mtu = len(burst)
	}
	for len(burst) > 0 {
		n := min(mtu, len(burst))
		r.tx.push(model.RadioChunk{Direction: model.Downlink, Data: burst[:n:n]})
		burst = burst[n:]
	}
}

func (r *Reference) handleUplink(f mavlink.Frame, emit func(uint32, map[string]any)) {
	switch f.MessageID {
	case mavlink.MsgParamRequestList:
		for i := range r.params.list {
			emit(mavlink.MsgParamValue, r.paramValue(i))
		}
	case mavlink.MsgParamRequestRead:
		idx := -1
		if v, ok := f.Fields["param_index"].(int16); ok {
			idx = int(v)
		}
		if idx < 0 {
			name, _ := f.Fields["param_id"].(string)
			idx, _ = r.params.find(name)
		}
		if idx >= 0 && idx < len(r.params.list) {
			emit(mavlink.MsgParamValue, r.paramValue(idx))
		}
	case mavlink.MsgParamSet:
		name, _ := f.Fields["param_id"].(string)
		v, _ := f.Fields["param_value"].(float32)
		idx, p := r.params.find(name)
		if p == nil {
			return
		}
		if p.set != nil {
			p.set(float64(v))
		}
		emit(mavlink.MsgParamValue, r.paramValue(idx))
	case mavlink.MsgMissionRequestList:
		// No mission is stored; report an empty plan.
		emit(mavlink.MsgMissionCount, map[string]any{
			"count":            0,
			"target_system":    f.SystemID,
			"target_component": f.ComponentID,
			"mission_type":     f.Fields["mission_type"],
		})
	case mavlink.MsgCommandLong:
		cmd, _ := f.Fields["command"].(uint16)
		result := mavResultUnsupported
		if cmd == mavCmdArmDisarm {
			p1, _ := f.Fields["param1"].(float32)
			arm := p1 >= 0.5
			r.gcsArm = &arm
			r.armed = arm
			result = mavResultAccepted
		}
		emit(mavlink.MsgCommandAck, map[string]any{
			"command":          cmd,
			"result":           result,
			"target_system":    f.SystemID,
			"target_component": f.ComponentID,
		})
	}
}

func (r *Reference) paramValue(i int) map[string]any {
	p := r.params.list[i]
	return map[string]any{
		"param_value": float32(p.get()),
		"param_count": len(r.params.list),
		"param_index": i,
		"param_id":    p.name,
		"param_type":  mavParamTypeReal32,
	}
}
