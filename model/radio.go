package model

// Direction tags radio traffic relative to the autopilot.
type Direction int

const (
	// Downlink is traffic transmitted by the autopilot.
	Downlink Direction = iota
	// Uplink is traffic received by the autopilot.
	Uplink
)

func (d Direction) String() string {
	if d == Uplink {
		return "uplink"
	}
	return "downlink"
}

// RadioChunk is one transport delivery of raw telemetry bytes. Chunk
// boundaries carry no meaning; frames may span chunks.
type RadioChunk struct {
	Direction Direction
	Data      []byte
}
