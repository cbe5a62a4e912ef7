package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/flight-sitl/internal/control"
	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Addr string
	// UIDir holds index.html and its assets. Empty disables the UI.
	UIDir string
}

// Server exposes the control channel (/ws), the telemetry channel (/rfd),
// a JSON state endpoint and, optionally, Prometheus metrics.
type Server struct {
	cfg      Config
	ctl      *control.Controller
	hub      *Hub
	metrics  *observability.StreamCollector
	promHTTP http.Handler
	log      logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer wires the handlers. metricsHandler may be nil to omit /metrics.
func NewServer(cfg Config, ctl *control.Controller, hub *Hub, metricsHandler http.Handler, metrics *observability.StreamCollector, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		cfg:      cfg,
		ctl:      ctl,
		hub:      hub,
		metrics:  metrics,
		promHTTP: metricsHandler,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleControl)
	mux.HandleFunc("/rfd", s.handleTelemetry)
	mux.HandleFunc("/api/state", s.handleState)
	if s.promHTTP != nil {
		mux.Handle("/metrics", s.promHTTP)
	}
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Serve runs the server on l until ctx is cancelled, then shuts it down and
// closes every open websocket.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case err := <-errCh:
		s.closeConns()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.closeConns()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "stream server listening", logging.String("addr", l.Addr().String()))
	return s.Serve(ctx, l)
}

func (s *Server) track(c *websocket.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
		delete(s.conns, c)
	}
}

// handleControl reads JSON control messages. Only state requests are
// answered; rejected messages are logged.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	s.track(conn)
	defer s.untrack(conn)
	s.metrics.SubscriberDelta("ws", 1)
	defer s.metrics.SubscriberDelta("ws", -1)
	log.Info(ctx, "control client connected", logging.String("remote", r.RemoteAddr))

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug(ctx, "control client read ended", logging.Err(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		reply, err := s.ctl.HandleRaw(ctx, data)
		if err != nil || reply == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			log.Debug(ctx, "control client write failed", logging.Err(err))
			return
		}
	}
}

// handleTelemetry streams hub events until the client goes away.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	s.track(conn)
	defer s.untrack(conn)

	sub := s.hub.Subscribe()
	defer sub.Close()
	log.Info(ctx, "telemetry client connected",
		logging.String("remote", r.RemoteAddr),
		logging.String("subscriber", sub.ID),
	)

	// The read loop only notices the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			log.Info(ctx, "telemetry client disconnected",
				logging.String("subscriber", sub.ID),
				logging.Uint64("dropped", sub.Dropped()),
			)
			return
		case ev := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug(ctx, "telemetry client write failed", logging.Err(err))
				return
			}
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_ = json.NewEncoder(w).Encode(s.ctl.State())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UIDir == "" {
		http.NotFound(w, r)
		return
	}
	if r.URL.Path == "/" {
		index := filepath.Join(s.cfg.UIDir, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.Error(w, "index.html not found in "+s.cfg.UIDir, http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, index)
		return
	}
	http.FileServer(http.Dir(s.cfg.UIDir)).ServeHTTP(w, r)
}
