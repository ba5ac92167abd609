package domain

import "encoding/json"

// ProtocolVersion is the envelope wire version understood by this runtime.
const ProtocolVersion = 1

// Kind discriminates the four envelope shapes on the wire.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindNotification Kind = "notification"
)

// KnownKind reports whether a decoded kind is part of the protocol.
func KnownKind(kind Kind) bool {
	switch kind {
	case KindRequest, KindResponse, KindError, KindNotification:
		return true
	default:
		return false
	}
}

// Envelope is the wire unit. Every request envelope eventually produces
// exactly one response or error envelope carrying the same ID, or is
// abandoned by timeout/cancellation on the caller side.
type Envelope struct {
	Version      int             `json:"v"`
	ID           string          `json:"id,omitempty"`
	Kind         Kind            `json:"kind"`
	Tool         string          `json:"tool,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorCode    ErrorCode       `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DeadlineMS   int64           `json:"deadline_ms,omitempty"`
}

// NewRequest builds a request envelope for a tool call.
func NewRequest(id, tool string, payload json.RawMessage, deadlineMS int64) Envelope {
	return Envelope{
		Version:    ProtocolVersion,
		ID:         id,
		Kind:       KindRequest,
		Tool:       tool,
		Payload:    payload,
		DeadlineMS: deadlineMS,
	}
}

// NewResponse builds the success reply for a request ID.
func NewResponse(id string, payload json.RawMessage) Envelope {
	return Envelope{
		Version: ProtocolVersion,
		ID:      id,
		Kind:    KindResponse,
		Payload: payload,
	}
}

// NewErrorEnvelope builds the failure reply for a request ID.
func NewErrorEnvelope(id string, code ErrorCode, message string) Envelope {
	return Envelope{
		Version:      ProtocolVersion,
		ID:           id,
		Kind:         KindError,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// NewNotification builds a one-way envelope; notifications carry no ID and
// never produce a reply.
func NewNotification(tool string, payload json.RawMessage) Envelope {
	return Envelope{
		Version: ProtocolVersion,
		Kind:    KindNotification,
		Tool:    tool,
		Payload: payload,
	}
}

// Validate enforces the per-kind field contract.
func (e Envelope) Validate() error {
	const op = "envelope.validate"
	if e.Version != ProtocolVersion {
		return E(CodeProtocolError, op, "unsupported protocol version", nil)
	}
	if !KnownKind(e.Kind) {
		return E(CodeProtocolError, op, "unknown kind", nil)
	}
	switch e.Kind {
	case KindRequest:
		if e.ID == "" {
			return E(CodeProtocolError, op, "request requires an id", nil)
		}
		if e.Tool == "" {
			return E(CodeProtocolError, op, "request requires a tool name", nil)
		}
	case KindResponse:
		if e.ID == "" {
			return E(CodeProtocolError, op, "response requires an id", nil)
		}
	case KindError:
		if e.ID == "" {
			return E(CodeProtocolError, op, "error requires an id", nil)
		}
		if e.ErrorCode == "" {
			return E(CodeProtocolError, op, "error requires an error_code", nil)
		}
	case KindNotification:
		if e.Tool == "" {
			return E(CodeProtocolError, op, "notification requires a tool name", nil)
		}
	}
	return nil
}
