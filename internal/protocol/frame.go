package protocol

import "bytes"

// FrameDelimiter terminates each packet payload on the wire.
const FrameDelimiter byte = '\n'

// FrameDecoder turns a fragmented byte stream into discrete packet
// payloads. Bytes are accumulated until a delimiter is seen; anything after
// the last delimiter stays buffered for the next Feed. No maximum payload
// size is enforced, so a stream that never sends a delimiter grows the
// buffer without bound.
type FrameDecoder struct {
	buf []byte
}

// NewFrameDecoder creates an empty FrameDecoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends raw bytes and returns the complete payloads they finish, in
// stream order, without the trailing delimiter. Returned slices are copies
// and stay valid after further feeds. Feeding an empty slice is a no-op
// unless buffered bytes already contain a delimiter.
func (d *FrameDecoder) Feed(p []byte) [][]byte {
	d.buf = append(d.buf, p...)

	var payloads [][]byte
	for {
		i := bytes.IndexByte(d.buf, FrameDelimiter)
		if i < 0 {
			break
		}
		payload := make([]byte, i)
		copy(payload, d.buf[:i])
		payloads = append(payloads, payload)
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		// Release the backing array once fully drained.
		d.buf = nil
	}
	return payloads
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}

// Reset discards any buffered partial payload.
func (d *FrameDecoder) Reset() {
	d.buf = nil
}
