// Package stream serves live state and decoded radio telemetry to remote
// operator UIs over HTTP and websockets.
package stream

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/mavlink"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/model"
)

// TypeUnknown tags events carrying bytes that did not form a valid frame.
const TypeUnknown = "UNKNOWN"

// DefaultMailbox is the per-subscriber event buffer.
const DefaultMailbox = 512

// TelemetryEvent is one decoded frame, or a run of undecodable bytes, as
// sent on the telemetry channel.
type TelemetryEvent struct {
	Direction string         `json:"direction"`
	Raw       string         `json:"raw"`
	Decoded   map[string]any `json:"decoded"`
	Type      string         `json:"type"`
}

// Forwarder receives raw downlink bytes, typically a radio link. Send must
// not block.
type Forwarder interface {
	Send(p []byte) bool
}

// HubOptions configures a Hub.
type HubOptions struct {
	Mailbox int
	Forward Forwarder
	Metrics *observability.StreamCollector
	Logger  logging.Logger
}

// Hub consumes the bridge's radio queue, reassembles frames per direction
// and fans events out to subscribers. Ingest is single-consumer; Subscribe
// and Close are safe from any goroutine.
type Hub struct {
	src      <-chan model.RadioChunk
	decoders map[model.Direction]*mavlink.Decoder
	opts     HubOptions
	log      logging.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewHub reads chunks from src.
func NewHub(src <-chan model.RadioChunk, opts HubOptions) *Hub {
	if opts.Mailbox <= 0 {
		opts.Mailbox = DefaultMailbox
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		src: src,
		decoders: map[model.Direction]*mavlink.Decoder{
			model.Downlink: mavlink.NewDecoder(nil),
			model.Uplink:   mavlink.NewDecoder(nil),
		},
		opts: opts,
		log:  log,
		subs: make(map[string]*Subscription),
	}
}

// Run ingests chunks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-h.src:
			if !ok {
				return nil
			}
			h.Ingest(c)
		}
	}
}

// Ingest decodes one chunk, forwards downlink bytes and broadcasts the
// resulting events in stream order.
func (h *Hub) Ingest(c model.RadioChunk) {
	if len(c.Data) == 0 {
		return
	}
	if c.Direction == model.Downlink && h.opts.Forward != nil {
		h.opts.Forward.Send(c.Data)
	}

	dec, ok := h.decoders[c.Direction]
	if !ok {
		return
	}
	dir := c.Direction.String()
	for _, it := range dec.Scan(c.Data) {
		if it.IsJunk() {
			h.opts.Metrics.AddDiscarded(len(it.Junk))
			h.broadcast(TelemetryEvent{Direction: dir, Raw: mavlink.Hex(it.Junk), Type: TypeUnknown})
			continue
		}
		f := it.Frame
		h.opts.Metrics.IncFrame(dir, f.Name)
		h.broadcast(TelemetryEvent{
			Direction: dir,
			Raw:       mavlink.Hex(f.Raw),
			Decoded:   jsonSafe(f.Fields),
			Type:      f.Name,
		})
	}
}

// Subscribe registers a mailbox. Close the subscription when done.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		ID:  uuid.NewString(),
		hub: h,
		ch:  make(chan TelemetryEvent, h.opts.Mailbox),
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	h.opts.Metrics.SubscriberDelta("rfd", 1)
	return s
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(ev TelemetryEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			h.opts.Metrics.IncDropped("rfd")
		}
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	delete(h.subs, s.ID)
	h.mu.Unlock()
	if ok {
		h.opts.Metrics.SubscriberDelta("rfd", -1)
	}
}

// Subscription is one subscriber's bounded mailbox. A slow subscriber loses
// events; it never slows the hub.
type Subscription struct {
	ID      string
	hub     *Hub
	ch      chan TelemetryEvent
	dropped atomic.Uint64
	once    sync.Once
}

// C delivers events in decode order.
func (s *Subscription) C() <-chan TelemetryEvent { return s.ch }

// Dropped counts events lost to a full mailbox.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription. C is not closed.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// jsonSafe replaces non-finite floats, which JSON cannot carry, with nil.
func jsonSafe(fields map[string]any) map[string]any {
	for k, v := range fields {
		switch x := v.(type) {
		case float32:
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				fields[k] = nil
			}
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				fields[k] = nil
			}
		case []any:
			for i, e := range x {
				if f, ok := e.(float32); ok && (math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)) {
					x[i] = nil
				}
			}
		}
	}
	return fields
}
