// Package flightgear streams the simulated aircraft to a FlightGear
// instance for visualization, using FlightGear's generic UDP protocol.
package flightgear

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/model"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5550
	DefaultRate = 60
)

// SnapshotSource is the read side of the state bridge.
type SnapshotSource interface {
	Snapshot() (model.TickState, bool)
}

// Config configures an Output.
type Config struct {
	Host string
	Port int
	// Rate is the send rate in Hz.
	Rate int
	// DirectiveDir is where the protocol file is written. Empty selects the
	// system temp directory.
	DirectiveDir string
}

// Output samples snapshots at Rate and sends one line per sample.
type Output struct {
	cfg Config
	src SnapshotSource
	log logging.Logger
}

// New constructs an Output.
func New(cfg Config, src SnapshotSource, log logging.Logger) *Output {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Output{cfg: cfg, src: src, log: log.With(logging.String("component", "flightgear"))}
}

// Addr is the FlightGear host:port.
func (o *Output) Addr() string {
	return net.JoinHostPort(o.cfg.Host, strconv.Itoa(o.cfg.Port))
}

// Run writes the protocol file, streams until ctx is done and removes the
// file before returning, whatever the exit path.
func (o *Output) Run(ctx context.Context) (err error) {
	path, cleanup, err := WriteDirective(o.cfg.DirectiveDir)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := cleanup(); cErr != nil {
			o.log.Warn(ctx, "removing flightgear directive failed", logging.String("path", path), logging.Err(cErr))
			if err == nil {
				err = cErr
			}
		}
	}()

	conn, err := net.Dial("udp", o.Addr())
	if err != nil {
		return fmt.Errorf("flightgear: dial %s: %w", o.Addr(), err)
	}
	defer conn.Close()

	o.log.Info(ctx, "streaming to flightgear",
		logging.String("addr", o.Addr()),
		logging.String("directive", path),
		logging.Int("rate_hz", o.cfg.Rate),
		logging.String("fgfs_flag", fmt.Sprintf("--generic=socket,in,%d,,%d,udp,%s", o.cfg.Rate, o.cfg.Port, protocolName(path))),
	)

	ticker := time.NewTicker(time.Second / time.Duration(o.cfg.Rate))
	defer ticker.Stop()

	var (
		prev     model.TickState
		havePrev bool
		buf      []byte
		failures uint64
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		cur, ok := o.src.Snapshot()
		if !ok || (havePrev && cur.Seq == prev.Seq) {
			continue
		}
		dt := 0.0
		if havePrev {
			dt = (cur.SimTime - prev.SimTime).Seconds()
		} else {
			prev = cur
		}
		buf = AppendLine(buf[:0], cur, prev, dt)
		if _, err := conn.Write(buf); err != nil {
			// Nothing listens until FlightGear starts.
			if failures++; failures == 1 {
				o.log.Debug(ctx, "flightgear write failed", logging.Err(err))
			}
		}
		prev, havePrev = cur, true
	}
}

// protocolName is the name fgfs expects: the file's base name without .xml.
func protocolName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".xml")
}
