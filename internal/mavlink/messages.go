package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// FieldType is a MAVLink wire type.
type FieldType int

const (
	Uint8 FieldType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Float
	Double
	Char
)

// Size returns the encoded width of one element.
func (t FieldType) Size() int {
	switch t {
	case Uint8, Int8, Char:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float:
		return 4
	default:
		return 8
	}
}

// Field describes one payload field in wire order.
type Field struct {
	Name string
	Type FieldType
	// Len is the array length; zero means scalar.
	Len int
	// Extension fields are only carried by v2 frames.
	Extension bool
}

func (f Field) size() int {
	if f.Len > 0 {
		return f.Type.Size() * f.Len
	}
	return f.Type.Size()
}

// Message is a message definition from the dialect.
type Message struct {
	ID       uint32
	Name     string
	CRCExtra byte
	Fields   []Field
}

// BaseLen is the payload length without extension fields.
func (m *Message) BaseLen() int {
	n := 0
	for _, f := range m.Fields {
		if !f.Extension {
			n += f.size()
		}
	}
	return n
}

// MaxLen is the payload length including extension fields.
func (m *Message) MaxLen() int {
	n := 0
	for _, f := range m.Fields {
		n += f.size()
	}
	return n
}

// Message IDs used by the harness.
const (
	MsgHeartbeat          uint32 = 0
	MsgSysStatus          uint32 = 1
	MsgSystemTime         uint32 = 2
	MsgSetMode            uint32 = 11
	MsgParamRequestRead   uint32 = 20
	MsgParamRequestList   uint32 = 21
	MsgParamValue         uint32 = 22
	MsgParamSet           uint32 = 23
	MsgGPSRawInt          uint32 = 24
	MsgRawIMU             uint32 = 27
	MsgAttitude           uint32 = 30
	MsgGlobalPositionInt  uint32 = 33
	MsgMissionRequestList uint32 = 43
	MsgMissionCount       uint32 = 44
	MsgMissionAck         uint32 = 47
	MsgRCChannels         uint32 = 65
	MsgRequestDataStream  uint32 = 66
	MsgManualControl      uint32 = 69
	MsgRCChannelsOverride uint32 = 70
	MsgVFRHUD             uint32 = 74
	MsgCommandLong        uint32 = 76
	MsgCommandAck         uint32 = 77
	MsgBatteryStatus      uint32 = 147
)

func scalars(t FieldType, names ...string) []Field {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		out = append(out, Field{Name: n, Type: t})
	}
	return out
}

func concat(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func ext(fields ...Field) []Field {
	for i := range fields {
		fields[i].Extension = true
	}
	return fields
}

// rcChannels returns chanN_raw for N in [from, to].
func rcChannels(from, to int) []Field {
	names := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		names = append(names, fmt.Sprintf("chan%d_raw", i))
	}
	return scalars(Uint16, names...)
}

var common = []*Message{
	{ID: MsgHeartbeat, Name: "HEARTBEAT", CRCExtra: 50, Fields: concat(
		scalars(Uint32, "custom_mode"),
		scalars(Uint8, "type", "autopilot", "base_mode", "system_status", "mavlink_version"),
	)},
	{ID: MsgSysStatus, Name: "SYS_STATUS", CRCExtra: 124, Fields: concat(
		scalars(Uint32, "onboard_control_sensors_present", "onboard_control_sensors_enabled", "onboard_control_sensors_health"),
		scalars(Uint16, "load", "voltage_battery"),
		scalars(Int16, "current_battery"),
		scalars(Uint16, "drop_rate_comm", "errors_comm", "errors_count1", "errors_count2", "errors_count3", "errors_count4"),
		scalars(Int8, "battery_remaining"),
	)},
	{ID: MsgSystemTime, Name: "SYSTEM_TIME", CRCExtra: 137, Fields: concat(
		scalars(Uint64, "time_unix_usec"),
		scalars(Uint32, "time_boot_ms"),
	)},
	{ID: MsgSetMode, Name: "SET_MODE", CRCExtra: 89, Fields: concat(
		scalars(Uint32, "custom_mode"),
		scalars(Uint8, "target_system", "base_mode"),
	)},
	{ID: MsgParamRequestRead, Name: "PARAM_REQUEST_READ", CRCExtra: 214, Fields: concat(
		scalars(Int16, "param_index"),
		scalars(Uint8, "target_system", "target_component"),
		[]Field{{Name: "param_id", Type: Char, Len: 16}},
	)},
	{ID: MsgParamRequestList, Name: "PARAM_REQUEST_LIST", CRCExtra: 159, Fields: scalars(Uint8, "target_system", "target_component")},
	{ID: MsgParamValue, Name: "PARAM_VALUE", CRCExtra: 220, Fields: concat(
		scalars(Float, "param_value"),
		scalars(Uint16, "param_count", "param_index"),
		[]Field{{Name: "param_id", Type: Char, Len: 16}},
		scalars(Uint8, "param_type"),
	)},
	{ID: MsgParamSet, Name: "PARAM_SET", CRCExtra: 168, Fields: concat(
		scalars(Float, "param_value"),
		scalars(Uint8, "target_system", "target_component"),
		[]Field{{Name: "param_id", Type: Char, Len: 16}},
		scalars(Uint8, "param_type"),
	)},
	{ID: MsgGPSRawInt, Name: "GPS_RAW_INT", CRCExtra: 24, Fields: concat(
		scalars(Uint64, "time_usec"),
		scalars(Int32, "lat", "lon", "alt"),
		scalars(Uint16, "eph", "epv", "vel", "cog"),
		scalars(Uint8, "fix_type", "satellites_visible"),
	)},
	{ID: MsgRawIMU, Name: "RAW_IMU", CRCExtra: 144, Fields: concat(
		scalars(Uint64, "time_usec"),
		scalars(Int16, "xacc", "yacc", "zacc", "xgyro", "ygyro", "zgyro", "xmag", "ymag", "zmag"),
		ext(Field{Name: "id", Type: Uint8}, Field{Name: "temperature", Type: Int16}),
	)},
	{ID: MsgAttitude, Name: "ATTITUDE", CRCExtra: 39, Fields: concat(
		scalars(Uint32, "time_boot_ms"),
		scalars(Float, "roll", "pitch", "yaw", "rollspeed", "pitchspeed", "yawspeed"),
	)},
	{ID: MsgGlobalPositionInt, Name: "GLOBAL_POSITION_INT", CRCExtra: 104, Fields: concat(
		scalars(Uint32, "time_boot_ms"),
		scalars(Int32, "lat", "lon", "alt", "relative_alt"),
		scalars(Int16, "vx", "vy", "vz"),
		scalars(Uint16, "hdg"),
	)},
	{ID: MsgMissionRequestList, Name: "MISSION_REQUEST_LIST", CRCExtra: 132, Fields: concat(
		scalars(Uint8, "target_system", "target_component"),
		ext(Field{Name: "mission_type", Type: Uint8}),
	)},
	{ID: MsgMissionCount, Name: "MISSION_COUNT", CRCExtra: 221, Fields: concat(
		scalars(Uint16, "count"),
		scalars(Uint8, "target_system", "target_component"),
		ext(Field{Name: "mission_type", Type: Uint8}, Field{Name: "opaque_id", Type: Uint32}),
	)},
	{ID: MsgMissionAck, Name: "MISSION_ACK", CRCExtra: 153, Fields: concat(
		scalars(Uint8, "target_system", "target_component", "type"),
		ext(Field{Name: "mission_type", Type: Uint8}, Field{Name: "opaque_id", Type: Uint32}),
	)},
	{ID: MsgRCChannels, Name: "RC_CHANNELS", CRCExtra: 118, Fields: concat(
		scalars(Uint32, "time_boot_ms"),
		rcChannels(1, 18),
		scalars(Uint8, "chancount", "rssi"),
	)},
	{ID: MsgRequestDataStream, Name: "REQUEST_DATA_STREAM", CRCExtra: 148, Fields: concat(
		scalars(Uint16, "req_message_rate"),
		scalars(Uint8, "target_system", "target_component", "req_stream_id", "start_stop"),
	)},
	{ID: MsgManualControl, Name: "MANUAL_CONTROL", CRCExtra: 243, Fields: concat(
		scalars(Int16, "x", "y", "z", "r"),
		scalars(Uint16, "buttons"),
		scalars(Uint8, "target"),
		ext(
			Field{Name: "buttons2", Type: Uint16},
			Field{Name: "enabled_extensions", Type: Uint8},
			Field{Name: "s", Type: Int16},
			Field{Name: "t", Type: Int16},
		),
	)},
	{ID: MsgRCChannelsOverride, Name: "RC_CHANNELS_OVERRIDE", CRCExtra: 124, Fields: concat(
		rcChannels(1, 8),
		scalars(Uint8, "target_system", "target_component"),
		ext(rcChannels(9, 18)...),
	)},
	{ID: MsgVFRHUD, Name: "VFR_HUD", CRCExtra: 20, Fields: concat(
		scalars(Float, "airspeed", "groundspeed", "alt", "climb"),
		scalars(Int16, "heading"),
		scalars(Uint16, "throttle"),
	)},
	{ID: MsgCommandLong, Name: "COMMAND_LONG", CRCExtra: 152, Fields: concat(
		scalars(Float, "param1", "param2", "param3", "param4", "param5", "param6", "param7"),
		scalars(Uint16, "command"),
		scalars(Uint8, "target_system", "target_component", "confirmation"),
	)},
	{ID: MsgCommandAck, Name: "COMMAND_ACK", CRCExtra: 143, Fields: concat(
		scalars(Uint16, "command"),
		scalars(Uint8, "result"),
		ext(
			Field{Name: "progress", Type: Uint8},
			Field{Name: "result_param2", Type: Int32},
			Field{Name: "target_system", Type: Uint8},
			Field{Name: "target_component", Type: Uint8},
		),
	)},
	{ID: MsgBatteryStatus, Name: "BATTERY_STATUS", CRCExtra: 154, Fields: concat(
		scalars(Int32, "current_consumed", "energy_consumed"),
		scalars(Int16, "temperature"),
		[]Field{{Name: "voltages", Type: Uint16, Len: 10}},
		scalars(Int16, "current_battery"),
		scalars(Uint8, "id", "battery_function", "type"),
		scalars(Int8, "battery_remaining"),
		ext(
			Field{Name: "time_remaining", Type: Int32},
			Field{Name: "charge_state", Type: Uint8},
			Field{Name: "voltages_ext", Type: Uint16, Len: 4},
			Field{Name: "mode", Type: Uint8},
			Field{Name: "fault_bitmask", Type: Uint32},
		),
	)},
}

// Registry maps message IDs to definitions.
type Registry struct {
	byID   map[uint32]*Message
	byName map[string]*Message
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(msgs ...*Message) *Registry {
	r := &Registry{
		byID:   make(map[uint32]*Message, len(msgs)),
		byName: make(map[string]*Message, len(msgs)),
	}
	for _, m := range msgs {
		r.byID[m.ID] = m
		r.byName[m.Name] = m
	}
	return r
}

// Common is the registry of messages the harness understands.
var Common = NewRegistry(common...)

// Lookup returns the definition for id.
func (r *Registry) Lookup(id uint32) (*Message, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// ByName returns the definition with the given name.
func (r *Registry) ByName(name string) (*Message, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Decode unpacks a payload into named values. Payloads shorter than the full
// definition are zero-extended, matching MAVLink 2 trailing-zero truncation.
func (m *Message) Decode(payload []byte) map[string]any {
	buf := payload
	if full := m.MaxLen(); len(buf) < full {
		buf = make([]byte, full)
		copy(buf, payload)
	}
	out := make(map[string]any, len(m.Fields))
	off := 0
	for _, f := range m.Fields {
		switch {
		case f.Type == Char:
			out[f.Name] = strings.TrimRight(string(buf[off:off+f.Len]), "\x00")
		case f.Len > 0:
			vals := make([]any, f.Len)
			for i := range vals {
				vals[i] = readScalar(f.Type, buf[off+i*f.Type.Size():])
			}
			out[f.Name] = vals
		default:
			out[f.Name] = readScalar(f.Type, buf[off:])
		}
		off += f.size()
	}
	return out
}

func readScalar(t FieldType, b []byte) any {
	le := binary.LittleEndian
	switch t {
	case Uint8, Char:
		return b[0]
	case Int8:
		return int8(b[0])
	case Uint16:
		return le.Uint16(b)
	case Int16:
		return int16(le.Uint16(b))
	case Uint32:
		return le.Uint32(b)
	case Int32:
		return int32(le.Uint32(b))
	case Uint64:
		return le.Uint64(b)
	case Int64:
		return int64(le.Uint64(b))
	case Float:
		return math.Float32frombits(le.Uint32(b))
	default:
		return math.Float64frombits(le.Uint64(b))
	}
}

// Pack encodes values into a full-length payload. Missing fields are zero.
func (m *Message) Pack(values map[string]any) ([]byte, error) {
	buf := make([]byte, m.MaxLen())
	off := 0
	for _, f := range m.Fields {
		v, ok := values[f.Name]
		if ok {
			if err := writeField(f, buf[off:off+f.size()], v); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
			}
		}
		off += f.size()
	}
	return buf, nil
}

func writeField(f Field, dst []byte, v any) error {
	if f.Type == Char {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: want string, got %T", ErrFieldType, v)
		}
		copy(dst, s)
		return nil
	}
	if f.Len == 0 {
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrFieldType, v)
		}
		writeScalar(f.Type, dst, n)
		return nil
	}
	elems, ok := toSlice(v)
	if !ok {
		return fmt.Errorf("%w: want array, got %T", ErrFieldType, v)
	}
	if len(elems) > f.Len {
		return fmt.Errorf("%w: %d elements exceeds %d", ErrFieldType, len(elems), f.Len)
	}
	for i, e := range elems {
		writeScalar(f.Type, dst[i*f.Type.Size():], e)
	}
	return nil
}

func writeScalar(t FieldType, b []byte, v float64) {
	le := binary.LittleEndian
	switch t {
	case Uint8, Char:
		b[0] = uint8(v)
	case Int8:
		b[0] = byte(int8(v))
	case Uint16:
		le.PutUint16(b, uint16(v))
	case Int16:
		le.PutUint16(b, uint16(int16(v)))
	case Uint32:
		le.PutUint32(b, uint32(v))
	case Int32:
		le.PutUint32(b, uint32(int32(v)))
	case Uint64:
		le.PutUint64(b, uint64(v))
	case Int64:
		le.PutUint64(b, uint64(int64(v)))
	case Float:
		le.PutUint32(b, math.Float32bits(float32(v)))
	default:
		le.PutUint64(b, math.Float64bits(v))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toSlice(v any) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []uint16:
		out := make([]float64, len(s))
		for i, e := range s {
			out[i] = float64(e)
		}
		return out, true
	case []any:
		out := make([]float64, len(s))
		for i, e := range s {
			n, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
