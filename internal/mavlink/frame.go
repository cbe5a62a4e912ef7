// Package mavlink reconstructs MAVLink v1/v2 frames from an unbounded,
// possibly fragmented byte stream and encodes frames for the reference
// autopilot's radio.
package mavlink

import (
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// SyncV1 starts a MAVLink 1 frame.
	SyncV1 byte = 0xFE
	// SyncV2 starts a MAVLink 2 frame.
	SyncV2 byte = 0xFD

	headerLenV1    = 6
	headerLenV2    = 10
	checksumLen    = 2
	signatureLen   = 13
	incompatSigned = 0x01

	// MaxFrameLen bounds a signed v2 frame with a full payload.
	MaxFrameLen = headerLenV2 + 255 + checksumLen + signatureLen
)

var (
	// ErrFieldType reports a value that does not fit the field's wire type.
	ErrFieldType = errors.New("mavlink: field type mismatch")
	// ErrUnknownMessage reports a message ID missing from the registry.
	ErrUnknownMessage = errors.New("mavlink: unknown message")
	// ErrMessageID reports a message ID that does not fit a v1 frame.
	ErrMessageID = errors.New("mavlink: message id out of range for v1")
)

// Frame is one complete, checksum-validated message.
type Frame struct {
	Version     int
	Seq         uint8
	SystemID    uint8
	ComponentID uint8
	MessageID   uint32
	// Name is the message type, e.g. "ATTITUDE".
	Name   string
	Fields map[string]any
	// Raw is the frame exactly as received, sync byte through signature.
	Raw []byte
}

// Payload returns the payload slice of Raw.
func (f Frame) Payload() []byte {
	hdr := headerLenV1
	if f.Version == 2 {
		hdr = headerLenV2
	}
	if len(f.Raw) < hdr {
		return nil
	}
	n := int(f.Raw[1])
	return f.Raw[hdr : hdr+n]
}

// Hex renders bytes the way the radio log does: "FE 09 00 ...".
func Hex(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(p) * 3)
	for i, b := range p {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// ParseHex is the inverse of Hex. Whitespace between bytes is ignored.
func ParseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

func isSync(b byte) bool { return b == SyncV1 || b == SyncV2 }

func headerLen(sync byte) int {
	if sync == SyncV2 {
		return headerLenV2
	}
	return headerLenV1
}
