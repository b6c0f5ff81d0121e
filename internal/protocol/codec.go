package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a payload that could not be decoded into a Packet.
// Decode errors are recoverable: the caller drops the payload and the
// connection stays open.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode packet: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode packet: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one framed payload into a Packet. It fails only on
// malformed JSON or a missing/empty type discriminant; packets with an
// unrecognized type decode successfully so newer relay versions do not
// break the session (check Type.Known()).
func Decode(payload []byte) (*Packet, error) {
	var pkt Packet
	if err := json.Unmarshal(payload, &pkt); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if pkt.Type == "" {
		return nil, &DecodeError{Reason: "missing type discriminant"}
	}
	return &pkt, nil
}

// Encode serializes a Packet to its wire form, without the trailing frame
// delimiter. JSON string escaping guarantees the encoded form contains no
// raw delimiter byte, so framing never splits a packet in half.
func Encode(pkt *Packet) ([]byte, error) {
	data, err := json.Marshal(pkt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s packet: %w", pkt.Type, err)
	}
	return data, nil
}
