package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/flightgear"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/radio"
	"github.com/signalsfoundry/flight-sitl/internal/sim"
	"github.com/signalsfoundry/flight-sitl/internal/sim/state"
	"github.com/signalsfoundry/flight-sitl/internal/stream"
	"github.com/signalsfoundry/flight-sitl/timectrl"
)

// PacingMode maps the pacing name to a timectrl.Mode. Unknown names select
// real time.
func (s SchedulerConfig) PacingMode() timectrl.Mode {
	if strings.EqualFold(s.Pacing, timectrl.Accelerated.String()) {
		return timectrl.Accelerated
	}
	return timectrl.RealTime
}

// SessionOptions builds the session's scheduler, bridge and stats settings.
// Loggers, metrics and sinks are left for the caller.
func (c Config) SessionOptions() sim.SessionOptions {
	s := c.Scheduler
	return sim.SessionOptions{
		Scheduler: sim.Config{
			Period:      s.Period.Std(),
			MaxLag:      s.MaxLag.Std(),
			Pacing:      s.PacingMode(),
			EventBuffer: s.EventBuffer,
		},
		Bridge: state.Options{
			DownlinkQueue:  s.DownlinkQueue,
			UplinkQueue:    s.UplinkQueue,
			LifecycleQueue: s.LifecycleQueue,
		},
		StatsInterval: s.StatsInterval.Std(),
	}
}

// AutopilotConfig returns the flight controller settings. The controller's
// tick always equals the scheduler period.
func (c Config) AutopilotConfig() autopilot.Config {
	a := c.Autopilot
	return autopilot.Config{
		Tick:            c.Scheduler.Period.Std(),
		WatchdogTimeout: a.WatchdogTimeout.Std(),
		SystemID:        a.SystemID,
		ComponentID:     a.ComponentID,
		Stabilize:       a.Stabilize,
		RollKp:          a.RollKp,
		RollKi:          a.RollKi,
		RollKd:          a.RollKd,
		RadioMTU:        a.RadioMTU,
		QueueLimit:      a.QueueLimit,
	}
}

func (c Config) PlantConfig() plant.KinematicConfig {
	return plant.KinematicConfig{
		FuelLbs:           c.Plant.FuelLbs,
		GroundElevationFt: c.Plant.GroundElevationFt,
	}
}

func (c Config) RadioConfig() radio.Config {
	return radio.Config{
		Addr:         net.JoinHostPort(c.Radio.IP, strconv.Itoa(c.Radio.Port)),
		QueueSize:    c.Radio.QueueSize,
		DialAttempts: c.Radio.DialAttempts,
	}
}

func (c Config) FlightGearConfig() flightgear.Config {
	f := c.FlightGear
	return flightgear.Config{Host: f.Host, Port: f.Port, Rate: f.Rate, DirectiveDir: f.DirectiveDir}
}

func (c Config) StreamConfig() stream.Config {
	return stream.Config{Addr: c.Server.Addr, UIDir: c.Server.UIDir}
}

// LoggingConfig falls back to LOG_LEVEL and LOG_FORMAT for unset fields.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     firstNonEmpty(c.Log.Level, envOr(EnvLogLevel, "")),
		Format:    firstNonEmpty(c.Log.Format, envOr(EnvLogFormat, "")),
		AddSource: c.Log.AddSource,
	}
}

// TracingConfig resolves the tracing section against the SITL_TRACING_*
// environment. File values win over the environment; enabled in either place
// turns tracing on. A zero sampleRatio defers to the environment, then 1.
func (c Config) TracingConfig() observability.TracingConfig {
	t := c.Tracing
	ratio := t.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = envRatio(EnvTracingSampleRatio, 1)
	}
	return observability.TracingConfig{
		Enabled:     t.Enabled || envBool(EnvTracingEnabled),
		Exporter:    strings.ToLower(firstNonEmpty(t.Exporter, envOr(EnvTracingExporter, defaultExporter))),
		Endpoint:    firstNonEmpty(t.Endpoint, envOr(EnvOTLPEndpoint, "")),
		ServiceName: firstNonEmpty(t.ServiceName, envOr(EnvTracingServiceName, defaultServiceName)),
		SampleRatio: ratio,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// SampleInterval is the recorder's sampling period, never below one tick.
func (c Config) SampleInterval() time.Duration {
	if d := c.Recorder.SampleInterval.Std(); d > c.Scheduler.Period.Std() {
		return d
	}
	return c.Scheduler.Period.Std()
}
