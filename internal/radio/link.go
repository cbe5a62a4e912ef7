// Package radio connects the simulated autopilot's telemetry radio to an
// external ground station over UDP.
package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
)

const (
	DefaultAddr      = "127.0.0.1:14550"
	DefaultQueueSize = 256
	// maxDatagram covers the largest MAVLink v2 frame with room to spare.
	maxDatagram = 2048
)

// ErrClosed is returned by Run when it is called more than once.
var ErrClosed = errors.New("radio: link already used")

// UplinkSink receives bytes sent by the ground station. The state bridge
// satisfies it.
type UplinkSink interface {
	PushUplink(p []byte) bool
}

// Config configures a Link.
type Config struct {
	// Addr is the ground station's host:port.
	Addr      string
	QueueSize int
	// DialAttempts bounds address resolution retries. Zero retries until the
	// context ends.
	DialAttempts  uint
	RetryInterval time.Duration
}

// Stats are cumulative link counters.
type Stats struct {
	SentDatagrams uint64
	SentBytes     uint64
	RecvDatagrams uint64
	RecvBytes     uint64
	Dropped       uint64
	WriteErrors   uint64
}

// Link forwards downlink bytes to the ground station and pushes whatever it
// sends back into the uplink sink.
type Link struct {
	cfg    Config
	uplink UplinkSink
	log    logging.Logger
	out    chan []byte
	used   atomic.Bool

	sentDatagrams atomic.Uint64
	sentBytes     atomic.Uint64
	recvDatagrams atomic.Uint64
	recvBytes     atomic.Uint64
	dropped       atomic.Uint64
	writeErrors   atomic.Uint64

	mu    sync.Mutex
	local net.Addr
}

// New constructs a Link. uplink may be nil to discard received bytes.
func New(cfg Config, uplink UplinkSink, log logging.Logger) *Link {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Link{
		cfg:    cfg,
		uplink: uplink,
		log:    log.With(logging.String("component", "radio"), logging.String("peer", cfg.Addr)),
		out:    make(chan []byte, cfg.QueueSize),
	}
}

// Send queues p for transmission without blocking. It copies p and reports
// false when the queue is full.
func (l *Link) Send(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	buf := append([]byte(nil), p...)
	select {
	case l.out <- buf:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// LocalAddr is the bound local address once Run has connected, else nil.
func (l *Link) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

// Stats returns the current counters.
func (l *Link) Stats() Stats {
	return Stats{
		SentDatagrams: l.sentDatagrams.Load(),
		SentBytes:     l.sentBytes.Load(),
		RecvDatagrams: l.recvDatagrams.Load(),
		RecvBytes:     l.recvBytes.Load(),
		Dropped:       l.dropped.Load(),
		WriteErrors:   l.writeErrors.Load(),
	}
}

// Run connects and moves datagrams until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	if !l.used.CompareAndSwap(false, true) {
		return ErrClosed
	}
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.local = conn.LocalAddr()
	l.mu.Unlock()
	l.log.Info(ctx, "radio link up", logging.String("local", conn.LocalAddr().String()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.receive(ctx, conn)
	}()

	l.transmit(ctx, conn)
	_ = conn.Close()
	wg.Wait()

	st := l.Stats()
	l.log.Info(ctx, "radio link closed",
		logging.String("sent", humanize.Bytes(st.SentBytes)),
		logging.String("received", humanize.Bytes(st.RecvBytes)),
		logging.Uint64("dropped", st.Dropped),
		logging.Uint64("write_errors", st.WriteErrors),
	)
	return nil
}

func (l *Link) dial(ctx context.Context) (*net.UDPConn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.RetryInterval
	b.MaxInterval = 10 * l.cfg.RetryInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.log.Warn(ctx, "radio dial failed, retrying", logging.Err(err), logging.Duration("backoff", next))
		}),
	}
	if l.cfg.DialAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(l.cfg.DialAttempts))
	}

	conn, err := backoff.Retry(ctx, func() (*net.UDPConn, error) {
		raddr, err := net.ResolveUDPAddr("udp", l.cfg.Addr)
		if err != nil {
			return nil, err
		}
		return net.DialUDP("udp", nil, raddr)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("radio: dial %s: %w", l.cfg.Addr, err)
	}
	return conn, nil
}

func (l *Link) transmit(ctx context.Context, conn *net.UDPConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-l.out:
			n, err := conn.Write(p)
			if err != nil {
				// A closed peer port surfaces as ECONNREFUSED; the
				// ground station may come up later.
				if l.writeErrors.Add(1) == 1 {
					l.log.Warn(ctx, "radio write failed", logging.Err(err))
				}
				continue
			}
			l.sentDatagrams.Add(1)
			l.sentBytes.Add(uint64(n))
		}
	}
}

func (l *Link) receive(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			l.log.Debug(ctx, "radio read failed", logging.Err(err))
			continue
		}
		if n == 0 {
			continue
		}
		l.recvDatagrams.Add(1)
		l.recvBytes.Add(uint64(n))
		if l.uplink != nil {
			l.uplink.PushUplink(append([]byte(nil), buf[:n]...))
		}
	}
}
