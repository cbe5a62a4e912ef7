package mavlink

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"
)

// buildFrame encodes a frame whose bytes after the sync byte contain no sync
// value, so resynchronization tests cannot lock onto a false start inside it.
func buildFrame(t *testing.T, version int, msgID uint32, values map[string]any) []byte {
	t.Helper()
	for seq := 0; seq < 256; seq++ {
		enc := NewEncoder(1, 1)
		enc.Version = version
		enc.seq = uint8(seq)
		raw, err := enc.EncodeFields(msgID, values)
		if err != nil {
			t.Fatalf("EncodeFields(%d) error: %v", msgID, err)
		}
		if bytes.IndexByte(raw[1:], SyncV1) < 0 && bytes.IndexByte(raw[1:], SyncV2) < 0 {
			return raw
		}
	}
	t.Fatalf("no sequence number yields a clean frame for message %d", msgID)
	return nil
}

func attitudeFrame(t *testing.T, version int) []byte {
	return buildFrame(t, version, MsgAttitude, map[string]any{
		"time_boot_ms": 1000,
		"roll":         0.25,
		"pitch":        -0.5,
		"yaw":          1.5,
	})
}

func heartbeatFrame(t *testing.T, version int) []byte {
	return buildFrame(t, version, MsgHeartbeat, map[string]any{
		"type":            1,
		"autopilot":       3,
		"base_mode":       0x80,
		"system_status":   4,
		"mavlink_version": 3,
	})
}

func positionFrame(t *testing.T, version int, alt int) []byte {
	return buildFrame(t, version, MsgGlobalPositionInt, map[string]any{
		"time_boot_ms": 2000,
		"lat":          374000000,
		"alt":          alt,
		"hdg":          9000,
	})
}

func rawsOf(frames []Frame) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = f.Raw
	}
	return out
}

func equalRaws(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func TestDecoderSingleFrame(t *testing.T) {
	raw := attitudeFrame(t, 2)

	d := NewDecoder(nil)
	frames := d.Ingest(raw)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	f := frames[0]
	if f.Name != "ATTITUDE" || f.MessageID != MsgAttitude || f.Version != 2 {
		t.Fatalf("frame = %s/%d v%d, want ATTITUDE/%d v2", f.Name, f.MessageID, f.Version, MsgAttitude)
	}
	if got := f.Fields["roll"]; got != float32(0.25) {
		t.Fatalf("roll = %v, want 0.25", got)
	}
	if got := f.Fields["time_boot_ms"]; got != uint32(1000) {
		t.Fatalf("time_boot_ms = %v, want 1000", got)
	}
	if !bytes.Equal(f.Raw, raw) {
		t.Fatalf("raw = %s, want %s", Hex(f.Raw), Hex(raw))
	}
	if d.Buffered() != 0 {
		t.Fatalf("buffered = %d, want 0", d.Buffered())
	}
}

func TestDecoderV1Frame(t *testing.T) {
	raw := heartbeatFrame(t, 1)
	frames := NewDecoder(nil).Ingest(raw)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Version != 1 || frames[0].Fields["base_mode"] != uint8(0x80) {
		t.Fatalf("frame = %+v", frames[0])
	}
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	var stream []byte
	stream = append(stream, heartbeatFrame(t, 1)...)
	stream = append(stream, attitudeFrame(t, 2)...)
	stream = append(stream, positionFrame(t, 2, 1500)...)
	stream = append(stream, attitudeFrame(t, 1)...)

	want := rawsOf(NewDecoder(nil).Ingest(stream))
	if len(want) != 4 {
		t.Fatalf("whole-stream frames = %d, want 4", len(want))
	}

	for i := 0; i <= len(stream); i++ {
		d := NewDecoder(nil)
		got := append(d.Ingest(stream[:i]), d.Ingest(stream[i:])...)
		if !equalRaws(rawsOf(got), want) {
			t.Fatalf("split at %d: got %d frames, want %d identical frames", i, len(got), len(want))
		}
	}

	d := NewDecoder(nil)
	var got []Frame
	for i := range stream {
		got = append(got, d.Ingest(stream[i:i+1])...)
	}
	if !equalRaws(rawsOf(got), want) {
		t.Fatalf("byte-at-a-time: got %d frames, want %d", len(got), len(want))
	}
}

func TestDecoderTwoFramesThreeChunks(t *testing.T) {
	first := heartbeatFrame(t, 2)
	second := attitudeFrame(t, 2)
	stream := append(append([]byte{}, first...), second...)

	cut1, cut2 := 5, len(first)+3
	d := NewDecoder(nil)
	var frames []Frame
	frames = append(frames, d.Ingest(stream[:cut1])...)
	frames = append(frames, d.Ingest(stream[cut1:cut2])...)
	frames = append(frames, d.Ingest(stream[cut2:])...)

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Name != "HEARTBEAT" || frames[1].Name != "ATTITUDE" {
		t.Fatalf("order = %s, %s; want HEARTBEAT, ATTITUDE", frames[0].Name, frames[1].Name)
	}
}

func TestDecoderSingleCorruptedByte(t *testing.T) {
	lead := heartbeatFrame(t, 2)
	victim := attitudeFrame(t, 2)
	// Trailing frames exceed the longest length a corrupted header can declare.
	var trailing [][]byte
	total := 0
	for i := 0; total < MaxFrameLen+len(victim); i++ {
		f := positionFrame(t, 1+i%2, 100+i)
		trailing = append(trailing, f)
		total += len(f)
	}

	want := append([][]byte{lead}, trailing...)
	for pos := range victim {
		corrupted := append([]byte{}, victim...)
		b := corrupted[pos] ^ 0x55
		if isSync(b) {
			b = corrupted[pos] ^ 0x0F
		}
		corrupted[pos] = b

		var stream []byte
		stream = append(stream, lead...)
		stream = append(stream, corrupted...)
		for _, f := range trailing {
			stream = append(stream, f...)
		}

		d := NewDecoder(nil)
		got := rawsOf(d.Ingest(stream))
		if !equalRaws(got, want) {
			t.Fatalf("corrupt byte %d: got %d frames, want %d (lead + trailing)", pos, len(got), len(want))
		}
		if d.Buffered() != 0 {
			t.Fatalf("corrupt byte %d: %d bytes left buffered", pos, d.Buffered())
		}
	}
}

func TestDecoderDiscardedBytes(t *testing.T) {
	junk := []byte{0x01, 0x02, 0x03}
	stream := append(append([]byte{}, junk...), heartbeatFrame(t, 2)...)

	d := NewDecoder(nil)
	if n := len(d.Ingest(stream)); n != 1 {
		t.Fatalf("frames = %d, want 1", n)
	}
	if got := d.Discarded(); !bytes.Equal(got, junk) {
		t.Fatalf("discarded = %s, want %s", Hex(got), Hex(junk))
	}
	if got := d.Discarded(); len(got) != 0 {
		t.Fatalf("second Discarded = %s, want empty", Hex(got))
	}
	stats := d.Stats()
	if stats.Frames != 1 || stats.DiscardedBytes != 3 {
		t.Fatalf("stats = %+v, want 1 frame and 3 discarded bytes", stats)
	}
}

func TestDecoderScanKeepsJunkInStreamOrder(t *testing.T) {
	lead, mid, tail := []byte{0x01}, []byte{0x02, 0x03}, []byte{0x11, 0x22, 0x33}
	var stream []byte
	stream = append(stream, lead...)
	stream = append(stream, heartbeatFrame(t, 2)...)
	stream = append(stream, mid...)
	stream = append(stream, attitudeFrame(t, 2)...)
	stream = append(stream, tail...)

	items := NewDecoder(nil).Scan(stream)
	if len(items) != 5 {
		t.Fatalf("items = %d, want 5", len(items))
	}
	wantJunk := map[int][]byte{0: lead, 2: mid, 4: tail}
	for i, it := range items {
		if want, ok := wantJunk[i]; ok {
			if !it.IsJunk() || !bytes.Equal(it.Junk, want) {
				t.Fatalf("item %d = %+v, want junk %s", i, it, Hex(want))
			}
			continue
		}
		if it.IsJunk() {
			t.Fatalf("item %d = junk %s, want a frame", i, Hex(it.Junk))
		}
	}
	if items[1].Frame.MessageID != MsgHeartbeat || items[3].Frame.MessageID != MsgAttitude {
		t.Fatalf("frames = %s, %s", items[1].Frame.Name, items[3].Frame.Name)
	}
}

func TestDecoderScanHoldsPartialFrame(t *testing.T) {
	raw := heartbeatFrame(t, 2)
	d := NewDecoder(nil)
	if items := d.Scan(append([]byte{0x05}, raw[:4]...)); len(items) != 1 || !bytes.Equal(items[0].Junk, []byte{0x05}) {
		t.Fatalf("first Scan = %+v, want only the leading junk byte", items)
	}
	items := d.Scan(raw[4:])
	if len(items) != 1 || items[0].IsJunk() || !bytes.Equal(items[0].Frame.Raw, raw) {
		t.Fatalf("second Scan = %+v, want the completed frame", items)
	}
}

func TestDecoderChecksumFailureCounted(t *testing.T) {
	raw := attitudeFrame(t, 2)
	raw[headerLenV2] ^= 0x01

	d := NewDecoder(nil)
	if n := len(d.Ingest(raw)); n != 0 {
		t.Fatalf("frames = %d, want 0", n)
	}
	if got := d.Stats().ChecksumFailures; got != 1 {
		t.Fatalf("checksum failures = %d, want 1", got)
	}
	if got := len(d.Discarded()); got != len(raw) {
		t.Fatalf("discarded = %d bytes, want %d", got, len(raw))
	}
}

func TestDecoderTruncatedV2Payload(t *testing.T) {
	raw := buildFrame(t, 2, MsgAttitude, map[string]any{"time_boot_ms": 1000})
	if raw[1] != 2 {
		t.Fatalf("payload len = %d, want 2 after trailing-zero truncation", raw[1])
	}

	frames := NewDecoder(nil).Ingest(raw)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if got := frames[0].Fields["time_boot_ms"]; got != uint32(1000) {
		t.Fatalf("time_boot_ms = %v, want 1000", got)
	}
	if got := frames[0].Fields["yawspeed"]; got != float32(0) {
		t.Fatalf("yawspeed = %v, want 0", got)
	}
}

func TestDecoderSignedFrame(t *testing.T) {
	raw := heartbeatFrame(t, 2)
	n := int(raw[1])
	body := append([]byte{}, raw[:headerLenV2+n]...)
	body[2] |= incompatSigned
	sum := Checksum(body[1:], 50)
	signed := append(body, byte(sum), byte(sum>>8))
	signed = append(signed, bytes.Repeat([]byte{0x11}, signatureLen)...)

	frames := NewDecoder(nil).Ingest(signed)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if got := len(frames[0].Raw); got != len(signed) {
		t.Fatalf("raw len = %d, want %d including signature", got, len(signed))
	}
	if !bytes.Equal(frames[0].Payload(), raw[headerLenV2:headerLenV2+n]) {
		t.Fatalf("payload = %s", Hex(frames[0].Payload()))
	}
}

func TestDecoderRejectsUnknownIncompatFlags(t *testing.T) {
	raw := heartbeatFrame(t, 2)
	raw[2] = 0x02

	d := NewDecoder(nil)
	if n := len(d.Ingest(raw)); n != 0 {
		t.Fatalf("frames = %d, want 0", n)
	}
	if d.Stats().ChecksumFailures == 0 {
		t.Fatalf("expected the frame to be rejected")
	}
}

func TestDecoderFramesIterator(t *testing.T) {
	stream := append(heartbeatFrame(t, 2), attitudeFrame(t, 2)...)

	var names []string
	for f, err := range NewDecoder(nil).Frames(iotest.OneByteReader(bytes.NewReader(stream))) {
		if err != nil {
			t.Fatalf("Frames error: %v", err)
		}
		names = append(names, f.Name)
	}
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "ATTITUDE" {
		t.Fatalf("names = %v, want [HEARTBEAT ATTITUDE]", names)
	}
}

func TestDecoderFramesReadError(t *testing.T) {
	boom := errors.New("boom")
	var got error
	for _, err := range NewDecoder(nil).Frames(iotest.ErrReader(boom)) {
		got = err
	}
	if !errors.Is(got, boom) {
		t.Fatalf("err = %v, want %v", got, boom)
	}
}

func TestDecoderGroundStationUplink(t *testing.T) {
	tests := []struct {
		name  string
		hex   string
		field string
		want  any
	}{
		{"REQUEST_DATA_STREAM", "FE 06 00 FF BE 42 04 00 01 01 00 01 97 72", "req_message_rate", uint16(4)},
		{"SYSTEM_TIME", "FD 07 00 00 07 FF BE 02 00 00 00 40 1E 18 24 0A 06 E2 EF", "time_unix_usec", uint64(1700000000000000)},
		{"MISSION_REQUEST_LIST", "FD 02 00 00 01 FF BE 2B 00 00 01 01 55 DD", "mission_type", uint8(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ParseHex(tt.hex)
			if err != nil {
				t.Fatalf("ParseHex: %v", err)
			}
			d := NewDecoder(nil)
			frames := d.Ingest(raw)
			if len(frames) != 1 {
				t.Fatalf("frames = %d (stats %+v), want 1", len(frames), d.Stats())
			}
			f := frames[0]
			if f.Name != tt.name || f.SystemID != 255 || f.ComponentID != 190 {
				t.Fatalf("frame = %s from %d/%d, want %s from 255/190", f.Name, f.SystemID, f.ComponentID, tt.name)
			}
			if got := f.Fields[tt.field]; got != tt.want {
				t.Fatalf("%s = %v (%T), want %v", tt.field, got, got, tt.want)
			}
		})
	}
}

func TestCatalogWireLengths(t *testing.T) {
	tests := []struct {
		id        uint32
		base, max int
	}{
		{MsgSystemTime, 12, 12},
		{MsgSetMode, 6, 6},
		{MsgMissionRequestList, 2, 3},
		{MsgMissionCount, 4, 9},
		{MsgRequestDataStream, 6, 6},
		{MsgManualControl, 11, 18},
		{MsgRCChannelsOverride, 18, 38},
	}
	for _, tt := range tests {
		m, ok := Common.Lookup(tt.id)
		if !ok {
			t.Fatalf("Lookup(%d) missing", tt.id)
		}
		if m.BaseLen() != tt.base || m.MaxLen() != tt.max {
			t.Fatalf("%s lengths = %d/%d, want %d/%d", m.Name, m.BaseLen(), m.MaxLen(), tt.base, tt.max)
		}
	}
}

func TestEncoderV1DropsExtensions(t *testing.T) {
	enc := NewEncoder(1, 1)
	enc.Version = 1
	raw, err := enc.EncodeFields(MsgRawIMU, map[string]any{"xacc": 10, "temperature": 2500})
	if err != nil {
		t.Fatalf("EncodeFields error: %v", err)
	}
	if got := int(raw[1]); got != 26 {
		t.Fatalf("v1 payload len = %d, want 26", got)
	}
}

func TestEncoderSequenceRolls(t *testing.T) {
	enc := NewEncoder(1, 1)
	enc.seq = 255
	a, _ := enc.EncodeFields(MsgHeartbeat, nil)
	b, _ := enc.EncodeFields(MsgHeartbeat, nil)
	if a[4] != 255 || b[4] != 0 {
		t.Fatalf("seq = %d, %d; want 255, 0", a[4], b[4])
	}
}

func TestEncoderUnknownMessage(t *testing.T) {
	if _, err := NewEncoder(1, 1).Encode(9999, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestCRCCheckValue(t *testing.T) {
	if got := NewCRC().AccumulateBytes([]byte("123456789")); got != 0x6F91 {
		t.Fatalf("crc = %#04x, want 0x6f91", uint16(got))
	}
}

func TestHex(t *testing.T) {
	if got := Hex([]byte{0xFE, 0x09, 0x00}); got != "FE 09 00" {
		t.Fatalf("Hex = %q, want %q", got, "FE 09 00")
	}
	p, err := ParseHex("FE 09 00")
	if err != nil || !bytes.Equal(p, []byte{0xFE, 0x09, 0x00}) {
		t.Fatalf("ParseHex = %v, %v", p, err)
	}
}
