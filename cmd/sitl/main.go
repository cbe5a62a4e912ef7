// Command sitl runs the software-in-the-loop harness: the lock-step
// scheduler, the websocket and gRPC operator surfaces, the ground station
// radio link and the optional recorder and FlightGear outputs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/flight-sitl/internal/autopilot"
	"github.com/signalsfoundry/flight-sitl/internal/config"
	"github.com/signalsfoundry/flight-sitl/internal/control"
	"github.com/signalsfoundry/flight-sitl/internal/flightgear"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/nbi"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
	"github.com/signalsfoundry/flight-sitl/internal/plant"
	"github.com/signalsfoundry/flight-sitl/internal/radio"
	"github.com/signalsfoundry/flight-sitl/internal/recorder"
	"github.com/signalsfoundry/flight-sitl/internal/sim"
	"github.com/signalsfoundry/flight-sitl/internal/stream"
)

func main() {
	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(cfg.LoggingConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(ctx, "sitl exited", logging.Err(err))
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
		os.Exit(1)
	}
}

// parseArgs loads -config (when given) and applies the flags the operator
// set explicitly on top of it.
func parseArgs(args []string, output io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("sitl", flag.ContinueOnError)
	fs.SetOutput(output)

	path := fs.String("config", "", "YAML configuration file")
	ip := fs.String("ip", "", "ground station radio IP (overrides radio.ip)")
	port := fs.Int("port", 0, "ground station radio port (overrides radio.port)")
	period := fs.Duration("period", 0, "scheduler tick period (overrides scheduler.period)")
	httpAddr := fs.String("http", "", "websocket/HTTP listen address (overrides server.addr)")
	grpcAddr := fs.String("grpc", "", "gRPC listen address (overrides nbi.addr)")
	metricsAddr := fs.String("metrics", "", "separate Prometheus listen address (overrides metrics.addr)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ip":
			cfg.Radio.IP = *ip
		case "port":
			cfg.Radio.Port = *port
		case "period":
			cfg.Scheduler.Period = config.Duration(*period)
		case "http":
			cfg.Server.Addr = *httpAddr
		case "grpc":
			cfg.NBI.Addr = *grpcAddr
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
	return cfg, cfg.Validate()
}

// listeners lets tests hand in pre-bound sockets. Nil entries are opened from
// the configured addresses.
type listeners struct {
	HTTP    net.Listener
	GRPC    net.Listener
	Metrics net.Listener
}

func listen(l net.Listener, addr string) (net.Listener, error) {
	if l != nil {
		return l, nil
	}
	return net.Listen("tcp", addr)
}

// run wires one session to every enabled surface and blocks until ctx is
// done, the scheduler fails, or a surface fails. A watchdog expiry is
// returned as an error.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	reg := prometheus.NewRegistry()
	var (
		schedMetrics  *observability.SchedulerCollector
		streamMetrics *observability.StreamCollector
		nbiMetrics    *observability.NBICollector
		promHandler   http.Handler
	)
	if cfg.Metrics.Enabled {
		var err error
		if schedMetrics, err = observability.NewSchedulerCollector(reg); err != nil {
			return err
		}
		if streamMetrics, err = observability.NewStreamCollector(reg); err != nil {
			return err
		}
		if nbiMetrics, err = observability.NewNBICollector(reg); err != nil {
			return err
		}
		promHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	var rec *recorder.Recorder
	opts := cfg.SessionOptions()
	opts.Logger = log
	opts.Metrics = schedMetrics
	if cfg.Recorder.Enabled {
		rec = recorder.New(cfg.Recorder.Path, log)
		defer rec.Close()
		opts.Sinks = append(opts.Sinks, rec)
	}

	session := sim.NewSession(opts,
		plant.NewKinematic(cfg.PlantConfig()),
		autopilot.NewReference(cfg.AutopilotConfig()),
	)
	ctx = session.Context(ctx)
	log = log.With(logging.String("session_id", session.ID))

	hubOpts := stream.HubOptions{Mailbox: cfg.Server.Mailbox, Metrics: streamMetrics, Logger: log}
	var link *radio.Link
	if cfg.Radio.Enabled {
		link = radio.New(cfg.RadioConfig(), session.Bridge, log)
		hubOpts.Forward = link
	}
	hub := stream.NewHub(session.Bridge.Downlink(), hubOpts)
	ctl := control.New(session.Bridge, log, streamMetrics)

	httpLis, err := listen(lis.HTTP, cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	var metricsLis net.Listener
	mount := promHandler
	if cfg.Metrics.Enabled && (cfg.Metrics.Addr != "" || lis.Metrics != nil) {
		if metricsLis, err = listen(lis.Metrics, cfg.Metrics.Addr); err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("listen %s: %w", cfg.Metrics.Addr, err)
		}
		mount = nil
	}
	var grpcLis net.Listener
	if cfg.NBI.Enabled {
		if grpcLis, err = listen(lis.GRPC, cfg.NBI.Addr); err != nil {
			_ = httpLis.Close()
			if metricsLis != nil {
				_ = metricsLis.Close()
			}
			return fmt.Errorf("listen %s: %w", cfg.NBI.Addr, err)
		}
	}

	if rec != nil {
		if err := rec.BeginSession(ctx, session.ID, cfg); err != nil {
			log.Warn(ctx, "recorder unavailable", logging.Err(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failMu   sync.Mutex
		firstErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				log.Error(runCtx, "component failed", logging.String("component", name), logging.Err(err))
				failMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", name, err)
				}
				failMu.Unlock()
				cancel()
			}
		}()
	}

	start("hub", hub.Run)
	if link != nil {
		start("radio", link.Run)
	}

	web := stream.NewServer(cfg.StreamConfig(), ctl, hub, mount, streamMetrics, log)
	log.Info(ctx, "stream server listening", logging.String("addr", httpLis.Addr().String()))
	start("http", func(ctx context.Context) error { return web.Serve(ctx, httpLis) })

	if metricsLis != nil {
		log.Info(ctx, "serving Prometheus metrics", logging.String("addr", metricsLis.Addr().String()))
		start("metrics", func(ctx context.Context) error { return serveMetrics(ctx, metricsLis, promHandler) })
	}
	if grpcLis != nil {
		server := nbi.NewServer(nbi.NewSimulatorService(ctl, hub, log), nbiMetrics, log)
		log.Info(ctx, "starting NBI gRPC server", logging.String("addr", grpcLis.Addr().String()))
		start("nbi", func(ctx context.Context) error { return nbi.Serve(ctx, server, grpcLis, log) })
	}
	if rec != nil {
		start("recorder", func(ctx context.Context) error {
			return rec.RunSampler(ctx, session.ID, session.Bridge, cfg.SampleInterval())
		})
	}
	if cfg.FlightGear.Enabled {
		fg := flightgear.New(cfg.FlightGearConfig(), session.Bridge, log)
		start("flightgear", fg.Run)
	}

	runErr := session.Run(runCtx)
	cancel()
	wg.Wait()

	if rec != nil {
		if err := rec.EndSession(context.WithoutCancel(ctx), session.ID, runErr); err != nil {
			log.Warn(ctx, "recording session result failed", logging.Err(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	return firstErr
}

func serveMetrics(ctx context.Context, l net.Listener, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	return err
}
