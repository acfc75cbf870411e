package wire

import "encoding/json"

// Codec encodes and decodes a message Envelope to and from an opaque
// byte blob. Implementations are injected so the wire representation
// stays pluggable independent of the framing layer.
type Codec interface {
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// JSONCodec is the default Codec, encoding envelopes as JSON. It is the
// simplest codec that round-trips the Payload field's concrete types
// via re-marshaling in DecodePayload.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Encode marshals e to JSON.
func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals b into an Envelope. Payload is left as the generic
// shape produced by encoding/json (map[string]any for objects); callers
// that need the concrete payload type use DecodePayload.
func (JSONCodec) Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if !Known(e.Kind) {
		return Envelope{}, ErrUnknownKind
	}
	return e, nil
}

// DecodePayload re-marshals e.Payload (as decoded generically by a
// Codec) into out, a pointer to the concrete payload type for e.Kind.
// This indirection is necessary because JSON, and most pluggable
// codecs, can't recover concrete Go struct types from an interface{}
// field without a second pass.
func DecodePayload(e Envelope, out any) error {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
