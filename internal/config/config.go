// Package config loads the harness configuration from YAML. Command-line
// flags in cmd/sitl override the loaded values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/flight-sitl/internal/observability"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a Go duration string ("1ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse %q: %w", value.Value, err)
	}
	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete harness configuration.
type Config struct {
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Server     ServerConfig     `yaml:"server"`
	NBI        NBIConfig        `yaml:"nbi"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Radio      RadioConfig      `yaml:"radio"`
	Autopilot  AutopilotConfig  `yaml:"autopilot"`
	Plant      PlantConfig      `yaml:"plant"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	FlightGear FlightGearConfig `yaml:"flightgear"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

// SchedulerConfig configures the tick loop and the state bridge queues.
type SchedulerConfig struct {
	Period         Duration `yaml:"period"`
	MaxLag         Duration `yaml:"maxLag"`
	Pacing         string   `yaml:"pacing"` // realtime | accelerated
	EventBuffer    int      `yaml:"eventBuffer"`
	StatsInterval  Duration `yaml:"statsInterval"`
	DownlinkQueue  int      `yaml:"downlinkQueue"`
	UplinkQueue    int      `yaml:"uplinkQueue"`
	LifecycleQueue int      `yaml:"lifecycleQueue"`
}

// ServerConfig configures the HTTP/websocket server.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	UIDir   string `yaml:"uiDir"`
	Mailbox int    `yaml:"mailbox"`
}

// NBIConfig configures the gRPC server.
type NBIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig configures Prometheus exposition. An empty Addr mounts
// /metrics on the HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RadioConfig configures the UDP link to a ground station.
type RadioConfig struct {
	Enabled      bool   `yaml:"enabled"`
	IP           string `yaml:"ip"`
	Port         int    `yaml:"port"`
	QueueSize    int    `yaml:"queueSize"`
	DialAttempts uint   `yaml:"dialAttempts"`
}

// AutopilotConfig configures the reference flight controller.
type AutopilotConfig struct {
	WatchdogTimeout Duration `yaml:"watchdogTimeout"`
	SystemID        uint8    `yaml:"systemId"`
	ComponentID     uint8    `yaml:"componentId"`
	Stabilize       bool     `yaml:"stabilize"`
	RollKp          float64  `yaml:"rollKp"`
	RollKi          float64  `yaml:"rollKi"`
	RollKd          float64  `yaml:"rollKd"`
	RadioMTU        int      `yaml:"radioMtu"`
	QueueLimit      int      `yaml:"queueLimit"`
}

// PlantConfig configures the reference flight model.
type PlantConfig struct {
	FuelLbs           float64 `yaml:"fuelLbs"`
	GroundElevationFt float64 `yaml:"groundElevationFt"`
}

// RecorderConfig configures the SQLite flight recorder.
type RecorderConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Path           string   `yaml:"path"`
	SampleInterval Duration `yaml:"sampleInterval"`
}

// FlightGearConfig configures the visualization output.
type FlightGearConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Rate         int    `yaml:"rate"`
	DirectiveDir string `yaml:"directiveDir"`
}

// TracingConfig configures OpenTelemetry. Unset fields fall back to the
// SITL_TRACING_* environment.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	// SampleRatio of zero defers to SITL_TRACING_SAMPLE_RATIO.
	SampleRatio float64 `yaml:"sampleRatio"`
}

// LogConfig configures logging. Unset fields fall back to LOG_LEVEL and
// LOG_FORMAT.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"addSource"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			Period:         Duration(time.Millisecond),
			MaxLag:         Duration(100 * time.Millisecond),
			Pacing:         "realtime",
			EventBuffer:    256,
			StatsInterval:  Duration(time.Second),
			DownlinkQueue:  1024,
			UplinkQueue:    256,
			LifecycleQueue: 16,
		},
		Server:  ServerConfig{Addr: ":8080", Mailbox: 512},
		NBI:     NBIConfig{Enabled: true, Addr: ":50051"},
		Metrics: MetricsConfig{Enabled: true},
		Radio: RadioConfig{
			Enabled:   true,
			IP:        "127.0.0.1",
			Port:      14550,
			QueueSize: 256,
		},
		Autopilot: AutopilotConfig{
			WatchdogTimeout: Duration(10 * time.Second),
			SystemID:        1,
			ComponentID:     1,
			RollKp:          1.5,
			RollKi:          0.1,
			RollKd:          0.05,
			QueueLimit:      100,
		},
		Plant:    PlantConfig{FuelLbs: 300},
		Recorder: RecorderConfig{Path: "sitl.db", SampleInterval: Duration(100 * time.Millisecond)},
		FlightGear: FlightGearConfig{
			Host: "127.0.0.1",
			Port: 5550,
			Rate: 60,
		},
	}
}

// Load reads path over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode unmarshals YAML into cfg, keeping fields the document omits.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks ranges and addresses.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	s := c.Scheduler
	if s.Period.Std() <= 0 {
		bad("scheduler.period must be positive, got %s", s.Period.Std())
	}
	if s.MaxLag.Std() < s.Period.Std() {
		bad("scheduler.maxLag %s is shorter than the period %s", s.MaxLag.Std(), s.Period.Std())
	}
	switch strings.ToLower(s.Pacing) {
	case "realtime", "accelerated":
	default:
		bad("scheduler.pacing must be realtime or accelerated, got %q", s.Pacing)
	}
	if s.DownlinkQueue < 0 || s.UplinkQueue < 0 || s.LifecycleQueue < 0 || s.EventBuffer < 0 {
		bad("scheduler queue sizes must not be negative")
	}

	if err := checkAddr(c.Server.Addr); err != nil {
		bad("server.addr: %v", err)
	}
	if c.NBI.Enabled {
		if err := checkAddr(c.NBI.Addr); err != nil {
			bad("nbi.addr: %v", err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr != "" {
		if err := checkAddr(c.Metrics.Addr); err != nil {
			bad("metrics.addr: %v", err)
		}
	}
	if c.Radio.Enabled {
		if net.ParseIP(c.Radio.IP) == nil {
			bad("radio.ip %q is not an IP address", c.Radio.IP)
		}
		if c.Radio.Port <= 0 || c.Radio.Port > 65535 {
			bad("radio.port %d out of range", c.Radio.Port)
		}
	}

	a := c.Autopilot
	if a.WatchdogTimeout.Std() <= 0 {
		bad("autopilot.watchdogTimeout must be positive")
	}
	if a.RadioMTU < 0 || a.QueueLimit < 0 {
		bad("autopilot.radioMtu and queueLimit must not be negative")
	}
	if c.Plant.FuelLbs < 0 {
		bad("plant.fuelLbs must not be negative")
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		bad("recorder.path is required when the recorder is enabled")
	}
	if c.FlightGear.Enabled {
		if c.FlightGear.Port <= 0 || c.FlightGear.Port > 65535 {
			bad("flightgear.port %d out of range", c.FlightGear.Port)
		}
		if c.FlightGear.Rate <= 0 || c.FlightGear.Rate > 1000 {
			bad("flightgear.rate %d out of range", c.FlightGear.Rate)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		bad("tracing.sampleRatio must be within [0,1]")
	}
	if e := c.Tracing.Exporter; e != "" && !observability.KnownExporter(e) {
		bad("tracing.exporter %q is not stdout or otlp", e)
	}
	return errors.Join(errs...)
}

func checkAddr(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}
	_, _, err := net.SplitHostPort(addr)
	return err
}
