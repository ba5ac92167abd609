// Package codec encodes and decodes protocol envelopes. Encoding never
// fails for a valid envelope; decoding enforces the per-kind field contract
// and surfaces violations as PROTOCOL_ERROR rather than a crash.
package codec

import (
	"encoding/json"

	"tipr/internal/domain"
)

// wireEnvelope pins the wire field order and keeps domain.Envelope free to
// evolve independently of the serialized form.
type wireEnvelope struct {
	Version      int              `json:"v"`
	ID           string           `json:"id,omitempty"`
	Kind         domain.Kind      `json:"kind"`
	Tool         string           `json:"tool,omitempty"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	ErrorCode    domain.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	DeadlineMS   int64            `json:"deadline_ms,omitempty"`
}

// Encode serializes one envelope to a single frame.
func Encode(env domain.Envelope) ([]byte, error) {
	const op = "codec.encode"
	if err := env.Validate(); err != nil {
		return nil, domain.Wrap(domain.CodeProtocolError, op, err)
	}
	wire := wireEnvelope{
		Version:      env.Version,
		ID:           env.ID,
		Kind:         env.Kind,
		Tool:         env.Tool,
		Payload:      env.Payload,
		ErrorCode:    env.ErrorCode,
		ErrorMessage: env.ErrorMessage,
		DeadlineMS:   env.DeadlineMS,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, domain.E(domain.CodeProtocolError, op, "marshal envelope", err)
	}
	return data, nil
}

// Decode parses one frame into an envelope.
func Decode(frame []byte) (domain.Envelope, error) {
	const op = "codec.decode"
	var wire wireEnvelope
	if err := json.Unmarshal(frame, &wire); err != nil {
		return domain.Envelope{}, domain.E(domain.CodeProtocolError, op, "unmarshal envelope", err)
	}
	env := domain.Envelope{
		Version:      wire.Version,
		ID:           wire.ID,
		Kind:         wire.Kind,
		Tool:         wire.Tool,
		Payload:      wire.Payload,
		ErrorCode:    wire.ErrorCode,
		ErrorMessage: wire.ErrorMessage,
		DeadlineMS:   wire.DeadlineMS,
	}
	if err := env.Validate(); err != nil {
		return domain.Envelope{}, domain.Wrap(domain.CodeProtocolError, op, err)
	}
	return env, nil
}
