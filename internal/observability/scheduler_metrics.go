package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes step-scheduler Prometheus metrics. Every method
// is a handful of atomic operations and is safe to call from the scheduler
// goroutine.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	Ticks            prometheus.Counter
	TickDuration     prometheus.Histogram
	TickLateness     prometheus.Histogram
	Resyncs          prometheus.Counter
	StepErrors       *prometheus.CounterVec
	WatchdogTimeouts prometheus.Counter
	Mode             prometheus.Gauge
	DroppedChunks    *prometheus.CounterVec
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Number of completed scheduler ticks.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall time spent executing one tick, excluding the pacing wait.",
		Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	lateness, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_lateness_seconds",
		Help:    "How far past its deadline each tick started.",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "sim_tick_lateness_seconds")
	if err != nil {
		return nil, err
	}

	resyncs, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_resyncs_total",
		Help: "Number of times the scheduler dropped its backlog and re-anchored the deadline.",
	}), "sim_resyncs_total")
	if err != nil {
		return nil, err
	}

	stepErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_step_errors_total",
		Help: "Transient step errors, labeled by the tick stage that failed.",
	}, []string{"stage"}), "sim_step_errors_total")
	if err != nil {
		return nil, err
	}

	watchdog, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_watchdog_timeouts_total",
		Help: "Autopilot watchdog timeouts. Each one ends its session.",
	}), "sim_watchdog_timeouts_total")
	if err != nil {
		return nil, err
	}

	mode, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_mode",
		Help: "Lifecycle mode: 0 uninitialized, 1 paused, 2 running.",
	}), "sim_mode")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_dropped_chunks_total",
		Help: "Radio chunks or requests dropped because a bridge queue was full, labeled by queue.",
	}, []string{"queue"}), "sim_dropped_chunks_total")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:         gatherer,
		Ticks:            ticks,
		TickDuration:     tickDuration,
		TickLateness:     lateness,
		Resyncs:          resyncs,
		StepErrors:       stepErrors,
		WatchdogTimeouts: watchdog,
		Mode:             mode,
		DroppedChunks:    dropped,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one completed tick.
func (c *SchedulerCollector) ObserveTick(d, lateness time.Duration) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.TickLateness != nil && lateness >= 0 {
		c.TickLateness.Observe(lateness.Seconds())
	}
}

// IncResync increments the resync counter.
func (c *SchedulerCollector) IncResync() {
	if c == nil || c.Resyncs == nil {
		return
	}
	c.Resyncs.Inc()
}

// IncStepError counts a transient error in the named stage.
func (c *SchedulerCollector) IncStepError(stage string) {
	if c == nil || c.StepErrors == nil {
		return
	}
	c.StepErrors.WithLabelValues(stage).Inc()
}

// IncWatchdogTimeout counts a fatal watchdog expiry.
func (c *SchedulerCollector) IncWatchdogTimeout() {
	if c == nil || c.WatchdogTimeouts == nil {
		return
	}
	c.WatchdogTimeouts.Inc()
}

// SetMode records the current lifecycle mode.
func (c *SchedulerCollector) SetMode(mode int) {
	if c == nil || c.Mode == nil {
		return
	}
	c.Mode.Set(float64(mode))
}

// AddDropped adds n dropped entries for queue.
func (c *SchedulerCollector) AddDropped(queue string, n uint64) {
	if c == nil || c.DroppedChunks == nil || n == 0 {
		return
	}
	c.DroppedChunks.WithLabelValues(queue).Add(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
