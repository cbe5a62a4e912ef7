// Package state holds the shared state bridge between the real-time step
// scheduler and the network-facing goroutines.
package state

import (
	"sync/atomic"

	"github.com/signalsfoundry/flight-sitl/model"
)

// Default queue capacities.
const (
	DefaultDownlinkQueue  = 1024
	DefaultUplinkQueue    = 256
	DefaultLifecycleQueue = 8
)

// LifecycleKind names an operator lifecycle request.
type LifecycleKind int

const (
	// Initialize loads initial conditions and leaves the session paused.
	Initialize LifecycleKind = iota + 1
	// Pause stops plant advance while the autopilot keeps ticking.
	Pause
	// Resume starts or restarts plant advance.
	Resume
)

func (k LifecycleKind) String() string {
	switch k {
	case Initialize:
		return "initialize"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	default:
		return "unknown"
	}
}

// LifecycleRequest is applied by the scheduler at the start of a tick.
type LifecycleRequest struct {
	Kind LifecycleKind
	// Conditions is only read for Initialize.
	Conditions model.InitialConditions
	// Resume starts the session running once Initialize succeeds.
	Resume bool
}

// Options sizes the bridge queues. Zero values select the defaults.
type Options struct {
	DownlinkQueue  int
	UplinkQueue    int
	LifecycleQueue int
}

// Stats counts bridge traffic.
type Stats struct {
	Published         uint64
	CommandWrites     uint64
	DroppedDownlink   uint64
	DroppedUplink     uint64
	DroppedLifecycle  uint64
	PendingDownlink   int
	PendingUplink     int
	PendingLifecycles int
}

// Bridge is the only state shared between the scheduler goroutine and the
// network side. Every operation is a single atomic exchange or a
// non-blocking channel operation; nothing here ever waits on the other side.
type Bridge struct {
	snapshot atomic.Pointer[model.TickState]
	command  atomic.Pointer[model.OperatorCommand]

	lifecycle chan LifecycleRequest
	downlink  chan model.RadioChunk
	uplink    chan []byte

	published        atomic.Uint64
	commandWrites    atomic.Uint64
	droppedDownlink  atomic.Uint64
	droppedUplink    atomic.Uint64
	droppedLifecycle atomic.Uint64
}

// NewBridge constructs a bridge with queues sized by opts.
func NewBridge(opts Options) *Bridge {
	if opts.DownlinkQueue <= 0 {
		opts.DownlinkQueue = DefaultDownlinkQueue
	}
	if opts.UplinkQueue <= 0 {
		opts.UplinkQueue = DefaultUplinkQueue
	}
	if opts.LifecycleQueue <= 0 {
		opts.LifecycleQueue = DefaultLifecycleQueue
	}
	return &Bridge{
		lifecycle: make(chan LifecycleRequest, opts.LifecycleQueue),
		downlink:  make(chan model.RadioChunk, opts.DownlinkQueue),
		uplink:    make(chan []byte, opts.UplinkQueue),
	}
}

// Publish atomically replaces the visible snapshot.
func (b *Bridge) Publish(ts model.TickState) {
	b.snapshot.Store(&ts)
	b.published.Add(1)
}

// Snapshot returns the latest published snapshot. ok is false until the
// first Publish.
func (b *Bridge) Snapshot() (ts model.TickState, ok bool) {
	p := b.snapshot.Load()
	if p == nil {
		return model.TickState{}, false
	}
	return *p, true
}

// WriteCommand atomically replaces the operator command. Last write wins.
func (b *Bridge) WriteCommand(cmd model.OperatorCommand) {
	b.command.Store(&cmd)
	b.commandWrites.Add(1)
}

// Command returns the latest operator command, or the default command when
// none has been written.
func (b *Bridge) Command() model.OperatorCommand {
	p := b.command.Load()
	if p == nil {
		return model.DefaultCommand()
	}
	return *p
}

// UpdateCommand applies fn to the current command and stores the result.
// Concurrent updaters retry rather than lose each other's change.
func (b *Bridge) UpdateCommand(fn func(model.OperatorCommand) model.OperatorCommand) model.OperatorCommand {
	for {
		old := b.command.Load()
		cur := model.DefaultCommand()
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if b.command.CompareAndSwap(old, &next) {
			b.commandWrites.Add(1)
			return next
		}
	}
}

// RequestLifecycle queues a lifecycle request. It reports false when the
// queue is full and the request was dropped.
func (b *Bridge) RequestLifecycle(req LifecycleRequest) bool {
	select {
	case b.lifecycle <- req:
		return true
	default:
		b.droppedLifecycle.Add(1)
		return false
	}
}

// TakeLifecycle pops one pending lifecycle request, if any.
func (b *Bridge) TakeLifecycle() (LifecycleRequest, bool) {
	select {
	case req := <-b.lifecycle:
		return req, true
	default:
		return LifecycleRequest{}, false
	}
}

// PushDownlink queues telemetry produced by the autopilot. Full queues drop
// the chunk.
func (b *Bridge) PushDownlink(chunk model.RadioChunk) bool {
	select {
	case b.downlink <- chunk:
		return true
	default:
		b.droppedDownlink.Add(1)
		return false
	}
}

// Downlink is the receive side of the downlink queue. It has one consumer.
func (b *Bridge) Downlink() <-chan model.RadioChunk { return b.downlink }

// PushUplink queues bytes bound for the autopilot. Full queues drop them.
func (b *Bridge) PushUplink(p []byte) bool {
	select {
	case b.uplink <- p:
		return true
	default:
		b.droppedUplink.Add(1)
		return false
	}
}

// DrainUplink returns every queued uplink chunk without blocking.
func (b *Bridge) DrainUplink() [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-b.uplink:
			out = append(out, p)
		default:
			return out
		}
	}
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published:         b.published.Load(),
		CommandWrites:     b.commandWrites.Load(),
		DroppedDownlink:   b.droppedDownlink.Load(),
		DroppedUplink:     b.droppedUplink.Load(),
		DroppedLifecycle:  b.droppedLifecycle.Load(),
		PendingDownlink:   len(b.downlink),
		PendingUplink:     len(b.uplink),
		PendingLifecycles: len(b.lifecycle),
	}
}
