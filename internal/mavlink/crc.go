package mavlink

// CRC is a running CRC-16/MCRF4XX (X.25) accumulator as used by MAVLink.
type CRC uint16

const crcInit CRC = 0xFFFF

// NewCRC returns an accumulator in its initial state.
func NewCRC() CRC { return crcInit }

// Accumulate folds one byte into the checksum.
func (c CRC) Accumulate(b byte) CRC {
	tmp := b ^ byte(c&0xFF)
	tmp ^= tmp << 4
	return CRC(uint16(c>>8) ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4)
}

// AccumulateBytes folds p into the checksum.
func (c CRC) AccumulateBytes(p []byte) CRC {
	for _, b := range p {
		c = c.Accumulate(b)
	}
	return c
}

// Checksum computes the frame checksum over the bytes after the sync byte and
// the message's CRC_EXTRA seed.
func Checksum(body []byte, extra byte) uint16 {
	return uint16(NewCRC().AccumulateBytes(body).Accumulate(extra))
}
