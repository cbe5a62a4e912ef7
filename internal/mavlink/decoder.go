package mavlink

import (
	"encoding/binary"
	"errors"
	"io"
	"iter"
)

type phase int

const (
	phaseSeekingSync phase = iota
	phaseReadingHeader
	phaseReadingPayload
	phaseValidating
)

// maxDiscarded caps the bytes retained for Discarded between drains.
const maxDiscarded = 4096

// DecoderStats counts decoder outcomes over the life of one instance.
type DecoderStats struct {
	Frames           uint64
	ChecksumFailures uint64
	DiscardedBytes   uint64
}

// Decoder is an incremental MAVLink parser. It accepts arbitrary chunks,
// keeps any trailing partial frame, and emits only checksum-valid frames.
// A Decoder is not safe for concurrent use; it belongs to whichever
// goroutine drains the byte source.
type Decoder struct {
	registry *Registry

	buf   []byte
	phase phase
	// pos is the next buffered byte not yet folded into crc.
	pos     int
	hdrLen  int
	bodyEnd int
	want    int
	crc     CRC
	def     *Message

	discarded []byte
	// run collects skipped bytes not yet reported by Scan.
	run   []byte
	stats DecoderStats
}

// NewDecoder returns a decoder validating against registry, or Common when nil.
func NewDecoder(registry *Registry) *Decoder {
	if registry == nil {
		registry = Common
	}
	return &Decoder{registry: registry}
}

// Item is one element of the decoded stream: a complete frame, or a run of
// bytes that did not belong to one. Exactly one of the two is set.
type Item struct {
	Frame Frame
	Junk  []byte
}

// IsJunk reports whether the item carries discarded bytes.
func (it Item) IsJunk() bool { return len(it.Junk) > 0 }

// Ingest consumes p and returns the frames it completes, in stream order.
// Bytes belonging to an unfinished frame are retained for the next call.
func (d *Decoder) Ingest(p []byte) []Frame {
	var frames []Frame
	for _, it := range d.Scan(p) {
		if !it.IsJunk() {
			frames = append(frames, it.Frame)
		}
	}
	return frames
}

// Scan is Ingest that also reports discarded bytes inline. Each run of
// skipped bytes between two frames becomes one junk item placed where it
// occurred; a run still open when p is exhausted is flushed at the end.
func (d *Decoder) Scan(p []byte) []Item {
	d.buf = append(d.buf, p...)

	var items []Item
	flush := func() {
		if len(d.run) > 0 {
			items = append(items, Item{Junk: d.run})
			d.run = nil
		}
	}

	for {
		switch d.phase {
		case phaseSeekingSync:
			i := 0
			for i < len(d.buf) && !isSync(d.buf[i]) {
				i++
			}
			d.discard(i)
			if len(d.buf) == 0 {
				flush()
				return items
			}
			d.hdrLen = headerLen(d.buf[0])
			d.pos = 1
			d.crc = NewCRC()
			d.phase = phaseReadingHeader

		case phaseReadingHeader:
			if len(d.buf) < d.hdrLen {
				flush()
				return items
			}
			d.crc = d.crc.AccumulateBytes(d.buf[d.pos:d.hdrLen])
			d.pos = d.hdrLen
			d.bodyEnd = d.hdrLen + int(d.buf[1])
			d.want = d.bodyEnd + checksumLen
			def, ok := d.registry.Lookup(d.messageID())
			if !ok {
				d.resync()
				continue
			}
			d.def = def
			if d.buf[0] == SyncV2 {
				flags := d.buf[2]
				if flags&^incompatSigned != 0 {
					d.resync()
					continue
				}
				if flags&incompatSigned != 0 {
					d.want += signatureLen
				}
			}
			d.phase = phaseReadingPayload

		case phaseReadingPayload:
			end := min(len(d.buf), d.bodyEnd)
			d.crc = d.crc.AccumulateBytes(d.buf[d.pos:end])
			d.pos = end
			if len(d.buf) < d.want {
				flush()
				return items
			}
			d.phase = phaseValidating

		case phaseValidating:
			frame, ok := d.validate()
			if !ok {
				d.resync()
				continue
			}
			flush()
			items = append(items, Item{Frame: frame})
			d.stats.Frames++
			d.buf = d.buf[d.want:]
			d.reset()
		}
	}
}

// messageID reads the message ID from a complete header.
func (d *Decoder) messageID() uint32 {
	if d.buf[0] == SyncV2 {
		return uint32(d.buf[7]) | uint32(d.buf[8])<<8 | uint32(d.buf[9])<<16
	}
	return uint32(d.buf[5])
}

func (d *Decoder) validate() (Frame, bool) {
	sum := uint16(d.crc.Accumulate(d.def.CRCExtra))
	if sum != binary.LittleEndian.Uint16(d.buf[d.bodyEnd:]) {
		return Frame{}, false
	}

	frame := Frame{Version: 1, Seq: d.buf[2], SystemID: d.buf[3], ComponentID: d.buf[4]}
	if d.buf[0] == SyncV2 {
		frame = Frame{Version: 2, Seq: d.buf[4], SystemID: d.buf[5], ComponentID: d.buf[6]}
	}
	frame.MessageID = d.def.ID
	frame.Name = d.def.Name
	frame.Raw = append([]byte(nil), d.buf[:d.want]...)
	frame.Fields = d.def.Decode(d.buf[d.hdrLen:d.bodyEnd])
	return frame, true
}

// resync drops the byte taken as sync and scans again from the next one.
func (d *Decoder) resync() {
	d.stats.ChecksumFailures++
	d.discard(1)
	d.reset()
}

func (d *Decoder) reset() {
	d.phase = phaseSeekingSync
	d.pos = 0
	d.hdrLen = 0
	d.bodyEnd = 0
	d.want = 0
	d.crc = NewCRC()
	d.def = nil
}

func (d *Decoder) discard(n int) {
	if n == 0 {
		return
	}
	d.stats.DiscardedBytes += uint64(n)
	d.discarded = append(d.discarded, d.buf[:n]...)
	d.run = append(d.run, d.buf[:n]...)
	if over := len(d.discarded) - maxDiscarded; over > 0 {
		d.discarded = d.discarded[over:]
	}
	d.buf = d.buf[n:]
}

// Discarded returns and clears the bytes skipped since the last call.
func (d *Decoder) Discarded() []byte {
	out := d.discarded
	d.discarded = nil
	return out
}

// Buffered reports how many bytes are held waiting for more input.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Stats returns the running counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// Frames lazily decodes r until EOF. A non-EOF read error is yielded once and
// ends the sequence; recover by constructing a fresh Decoder.
func (d *Decoder) Frames(r io.Reader) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		chunk := make([]byte, 4096)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				for _, f := range d.Ingest(chunk[:n]) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Frame{}, err)
				}
				return
			}
		}
	}
}
