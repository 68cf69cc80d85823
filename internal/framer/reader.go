package framer

import "encoding/binary"

type framingState int

const (
	stateScanning framingState = iota
	stateReadingLength
	stateReadingPayload
)

// StreamReader resynchronises an octet stream with no inherent framing
// beyond a two-byte magic prefix and a little-endian u16 length, yielding
// complete payloads. It never blocks waiting for more than one octet at a
// time while resynchronising: Feed can be called with chunks of any size,
// including one byte, and the sequence of emitted payloads is identical
// regardless of how the input was chunked.
type StreamReader struct {
	buf    []byte
	state  framingState
	length uint16
}

func NewStreamReader() *StreamReader {
	return &StreamReader{state: stateScanning}
}

// Feed appends data to the internal buffer and extracts every complete
// payload now available. It returns them in arrival order.
func (r *StreamReader) Feed(data []byte) [][]byte {
	r.buf = append(r.buf, data...)

	var payloads [][]byte
	for {
		switch r.state {
		case stateScanning:
			if len(r.buf) < 1 {
				return payloads
			}
			if r.buf[0] != magicByte1 {
				r.buf = r.buf[1:]
				continue
			}
			if len(r.buf) < 2 {
				return payloads
			}
			if r.buf[1] != magicByte2 {
				r.buf = r.buf[1:]
				continue
			}
			r.buf = r.buf[2:]
			r.state = stateReadingLength

		case stateReadingLength:
			if len(r.buf) < 2 {
				return payloads
			}
			r.length = binary.LittleEndian.Uint16(r.buf[:2])
			r.buf = r.buf[2:]
			r.state = stateReadingPayload

		case stateReadingPayload:
			if len(r.buf) < int(r.length) {
				return payloads
			}
			payload := make([]byte, r.length)
			copy(payload, r.buf[:r.length])
			r.buf = r.buf[r.length:]
			r.state = stateScanning
			payloads = append(payloads, payload)
		}
	}
}
