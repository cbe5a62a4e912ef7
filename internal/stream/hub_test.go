package stream

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/flight-sitl/internal/mavlink"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/model"
)

type recordingForwarder struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *recordingForwarder) Send(p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return true
}

func twoFrames(t *testing.T) []byte {
	t.Helper()
	enc := mavlink.NewEncoder(1, 1)
	hb, err := enc.EncodeFields(mavlink.MsgHeartbeat, map[string]any{"type": 1, "base_mode": 0x81, "mavlink_version": 3})
	if err != nil {
		t.Fatalf("encode heartbeat: %v", err)
	}
	att, err := enc.EncodeFields(mavlink.MsgAttitude, map[string]any{"time_boot_ms": 1000, "roll": 0.25, "pitch": -0.1, "yaw": 1.5})
	if err != nil {
		t.Fatalf("encode attitude: %v", err)
	}
	return append(hb, att...)
}

func collect(sub *Subscription, n int) []TelemetryEvent {
	var out []TelemetryEvent
	for len(out) < n {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

func TestHubTwoFramesAcrossThreeChunks(t *testing.T) {
	h := NewHub(nil, HubOptions{})
	sub := h.Subscribe()
	defer sub.Close()

	stream := twoFrames(t)
	cuts := []int{7, len(stream) - 5}
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: stream[:cuts[0]]})
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: stream[cuts[0]:cuts[1]]})
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: stream[cuts[1]:]})

	evs := collect(sub, 10)
	if len(evs) != 2 {
		t.Fatalf("events = %+v, want exactly 2", evs)
	}
	if evs[0].Type != "HEARTBEAT" || evs[1].Type != "ATTITUDE" {
		t.Fatalf("types = %s,%s, want HEARTBEAT,ATTITUDE", evs[0].Type, evs[1].Type)
	}
	if evs[0].Direction != "downlink" || evs[0].Raw[:2] != "FD" {
		t.Fatalf("event = %+v", evs[0])
	}
	if got := evs[1].Decoded["roll"]; got != float32(0.25) {
		t.Fatalf("decoded roll = %v, want 0.25", got)
	}
}

func TestHubSurfacesUnknownBytes(t *testing.T) {
	h := NewHub(nil, HubOptions{})
	sub := h.Subscribe()
	defer sub.Close()

	data := append([]byte{0x01, 0x02, 0x03}, twoFrames(t)...)
	h.Ingest(model.RadioChunk{Direction: model.Uplink, Data: data})

	evs := collect(sub, 10)
	if len(evs) != 3 {
		t.Fatalf("events = %+v, want UNKNOWN plus 2 frames", evs)
	}
	if evs[0].Type != TypeUnknown || evs[0].Raw != "01 02 03" || evs[0].Decoded != nil {
		t.Fatalf("unknown event = %+v", evs[0])
	}
	if evs[1].Direction != "uplink" {
		t.Fatalf("direction = %s, want uplink", evs[1].Direction)
	}

	b, err := json.Marshal(evs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"direction":"uplink","raw":"01 02 03","decoded":null,"type":"UNKNOWN"}` {
		t.Fatalf("json = %s", b)
	}
}

func TestHubEmitsEventsInStreamOrder(t *testing.T) {
	h := NewHub(nil, HubOptions{})
	sub := h.Subscribe()
	defer sub.Close()

	var data []byte
	data = append(data, 0x01)
	data = append(data, twoFrames(t)...)
	data = append(data, 0x11, 0x22, 0x33)
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: data})

	evs := collect(sub, 10)
	want := []struct{ typ, raw string }{
		{TypeUnknown, "01"},
		{"HEARTBEAT", ""},
		{"ATTITUDE", ""},
		{TypeUnknown, "11 22 33"},
	}
	if len(evs) != len(want) {
		t.Fatalf("events = %+v, want %d", evs, len(want))
	}
	for i, w := range want {
		if evs[i].Type != w.typ {
			t.Fatalf("event %d type = %s, want %s", i, evs[i].Type, w.typ)
		}
		if w.raw != "" && evs[i].Raw != w.raw {
			t.Fatalf("event %d raw = %q, want %q", i, evs[i].Raw, w.raw)
		}
	}
}

func TestHubKeepsDirectionsApart(t *testing.T) {
	h := NewHub(nil, HubOptions{})
	sub := h.Subscribe()
	defer sub.Close()

	stream := twoFrames(t)
	half := len(stream) / 2
	// Interleave halves of two different streams; each direction reassembles
	// on its own.
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: stream[:half]})
	h.Ingest(model.RadioChunk{Direction: model.Uplink, Data: stream[:half]})
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: stream[half:]})
	h.Ingest(model.RadioChunk{Direction: model.Uplink, Data: stream[half:]})

	evs := collect(sub, 10)
	var down, up int
	for _, ev := range evs {
		if ev.Type == TypeUnknown {
			t.Fatalf("unexpected UNKNOWN event %+v", ev)
		}
		if ev.Direction == "downlink" {
			down++
		} else {
			up++
		}
	}
	if down != 2 || up != 2 {
		t.Fatalf("downlink=%d uplink=%d, want 2/2", down, up)
	}
}

func TestHubForwardsDownlinkOnly(t *testing.T) {
	fwd := &recordingForwarder{}
	h := NewHub(nil, HubOptions{Forward: fwd})
	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: []byte{1}})
	h.Ingest(model.RadioChunk{Direction: model.Uplink, Data: []byte{2}})
	h.Ingest(model.RadioChunk{Direction: model.Downlink})

	if len(fwd.sent) != 1 || fwd.sent[0][0] != 1 {
		t.Fatalf("forwarded = %v, want only the downlink chunk", fwd.sent)
	}
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewStreamCollector(reg)
	if err != nil {
		t.Fatalf("NewStreamCollector: %v", err)
	}
	h := NewHub(nil, HubOptions{Mailbox: 1, Metrics: m})
	slow := h.Subscribe()
	defer slow.Close()

	h.Ingest(model.RadioChunk{Direction: model.Downlink, Data: twoFrames(t)})

	if slow.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", slow.Dropped())
	}
	if got := testutil.ToFloat64(m.DroppedEvents.WithLabelValues("rfd")); got != 1 {
		t.Fatalf("stream_dropped_events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Frames.WithLabelValues("downlink", "HEARTBEAT")); got != 1 {
		t.Fatalf("decoded heartbeat count = %v, want 1", got)
	}
}

func TestHubSubscriptionClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, _ := observability.NewStreamCollector(reg)
	h := NewHub(nil, HubOptions{Metrics: m})
	sub := h.Subscribe()
	sub.Close()
	sub.Close()

	if h.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want 0", h.Subscribers())
	}
	if got := testutil.ToFloat64(m.Subscribers.WithLabelValues("rfd")); got != 0 {
		t.Fatalf("stream_subscribers = %v, want 0 after double close", got)
	}
}

func TestHubRunDrainsSource(t *testing.T) {
	src := make(chan model.RadioChunk, 4)
	h := NewHub(src, HubOptions{})
	sub := h.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	src <- model.RadioChunk{Direction: model.Downlink, Data: twoFrames(t)}
	for i := 0; i < 2; i++ {
		select {
		case <-sub.C():
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestJSONSafeClearsNonFinite(t *testing.T) {
	fields := jsonSafe(map[string]any{
		"a": float32(math.NaN()),
		"b": math.Inf(1),
		"c": []any{float32(1), float32(math.NaN())},
		"d": uint8(3),
	})
	if fields["a"] != nil || fields["b"] != nil || fields["c"].([]any)[1] != nil || fields["d"] != uint8(3) {
		t.Fatalf("fields = %v", fields)
	}
	if _, err := json.Marshal(fields); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}
