package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamCollector exposes metrics for the websocket telemetry and control
// channels.
type StreamCollector struct {
	Subscribers     *prometheus.GaugeVec
	Frames          *prometheus.CounterVec
	DiscardedBytes  prometheus.Counter
	DroppedEvents   *prometheus.CounterVec
	ControlMessages *prometheus.CounterVec
}

// NewStreamCollector registers stream metrics against the provided registerer.
func NewStreamCollector(reg prometheus.Registerer) (*StreamCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	subscribers, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Connected websocket clients, labeled by channel.",
	}, []string{"channel"}), "stream_subscribers")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_frames_decoded_total",
		Help: "Telemetry frames decoded by the hub, labeled by direction and message type.",
	}, []string{"direction", "type"}), "stream_frames_decoded_total")
	if err != nil {
		return nil, err
	}

	discarded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_discarded_bytes_total",
		Help: "Bytes skipped by the telemetry decoder while seeking a valid frame.",
	}), "stream_discarded_bytes_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_dropped_events_total",
		Help: "Events dropped because a subscriber mailbox was full, labeled by channel.",
	}, []string{"channel"}), "stream_dropped_events_total")
	if err != nil {
		return nil, err
	}

	control, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_control_messages_total",
		Help: "Operator control messages, labeled by message type and result.",
	}, []string{"type", "result"}), "stream_control_messages_total")
	if err != nil {
		return nil, err
	}

	return &StreamCollector{
		Subscribers:     subscribers,
		Frames:          frames,
		DiscardedBytes:  discarded,
		DroppedEvents:   dropped,
		ControlMessages: control,
	}, nil
}

// SubscriberDelta moves the subscriber gauge for channel by delta.
func (c *StreamCollector) SubscriberDelta(channel string, delta int) {
	if c == nil || c.Subscribers == nil {
		return
	}
	c.Subscribers.WithLabelValues(channel).Add(float64(delta))
}

// IncFrame counts one decoded frame.
func (c *StreamCollector) IncFrame(direction, msgType string) {
	if c == nil || c.Frames == nil {
		return
	}
	c.Frames.WithLabelValues(direction, msgType).Inc()
}

// AddDiscarded counts n bytes skipped by the decoder.
func (c *StreamCollector) AddDiscarded(n int) {
	if c == nil || c.DiscardedBytes == nil || n <= 0 {
		return
	}
	c.DiscardedBytes.Add(float64(n))
}

// IncDropped counts one event dropped on channel.
func (c *StreamCollector) IncDropped(channel string) {
	if c == nil || c.DroppedEvents == nil {
		return
	}
	c.DroppedEvents.WithLabelValues(channel).Inc()
}

// IncControl counts one control message of msgType with result "ok" or
// "error".
func (c *StreamCollector) IncControl(msgType string, err error) {
	if c == nil || c.ControlMessages == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ControlMessages.WithLabelValues(msgType, result).Inc()
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
