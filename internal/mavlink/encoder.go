package mavlink

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Encoder frames payloads with a rolling sequence number.
type Encoder struct {
	Version     int
	SystemID    uint8
	ComponentID uint8

	registry *Registry

	mu  sync.Mutex
	seq uint8
}

// NewEncoder returns a v2 encoder for the given system and component.
func NewEncoder(systemID, componentID uint8) *Encoder {
	return &Encoder{Version: 2, SystemID: systemID, ComponentID: componentID, registry: Common}
}

// Encode frames a payload already packed for msgID. v1 frames carry only the
// base fields; v2 frames drop trailing zero bytes down to one byte.
func (e *Encoder) Encode(msgID uint32, payload []byte) ([]byte, error) {
	def, ok := e.registry.Lookup(msgID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, msgID)
	}

	e.mu.Lock()
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	var hdr []byte
	if e.Version == 1 {
		if msgID > 0xFF {
			return nil, fmt.Errorf("%w: %d", ErrMessageID, msgID)
		}
		if n := def.BaseLen(); len(payload) > n {
			payload = payload[:n]
		}
		hdr = []byte{SyncV1, byte(len(payload)), seq, e.SystemID, e.ComponentID, byte(msgID)}
	} else {
		n := len(payload)
		for n > 1 && payload[n-1] == 0 {
			n--
		}
		payload = payload[:n]
		hdr = []byte{
			SyncV2, byte(len(payload)), 0, 0, seq, e.SystemID, e.ComponentID,
			byte(msgID), byte(msgID >> 8), byte(msgID >> 16),
		}
	}
	if len(payload) > 255 {
		return nil, fmt.Errorf("mavlink: payload of %d bytes too long", len(payload))
	}

	out := make([]byte, 0, len(hdr)+len(payload)+checksumLen)
	out = append(out, hdr...)
	out = append(out, payload...)
	sum := Checksum(out[1:], def.CRCExtra)
	return binary.LittleEndian.AppendUint16(out, sum), nil
}

// EncodeFields packs values for msgID and frames the result.
func (e *Encoder) EncodeFields(msgID uint32, values map[string]any) ([]byte, error) {
	def, ok := e.registry.Lookup(msgID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, msgID)
	}
	payload, err := def.Pack(values)
	if err != nil {
		return nil, err
	}
	return e.Encode(msgID, payload)
}
