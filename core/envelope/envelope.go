package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope is the canonical on-wire message (§6). At most one of RequestID /
// CorrelationID is used as the correlation key per transport (§4.5).
type Envelope struct {
	Action        Action          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
}

// Validate enforces the Envelope invariant from §3: action non-empty.
func (e Envelope) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("envelope: action is empty")
	}
	return nil
}

// CorrelationKey returns the correlation key to use for this envelope given
// which field a transport keys on (§4.5), and whether one is present.
func (e Envelope) CorrelationKey(useCorrelationID bool) (string, bool) {
	if useCorrelationID {
		if e.CorrelationID != "" {
			return e.CorrelationID, true
		}
		return "", false
	}
	if e.RequestID != "" {
		return e.RequestID, true
	}
	return "", false
}

// New builds an Envelope carrying v as its JSON payload.
func New(action Action, v any) (Envelope, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, fmt.Errorf("envelope: marshal payload: %w", err)
		}
		raw = b
	}
	return Envelope{Action: action, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope's payload into out.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// Size returns the length, in bytes, of the JSON encoding of e. Used by the
// query correlator's pre-send size guard (§4.5, §8 property 4).
func Size(e Envelope) (int, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("envelope: size: %w", err)
	}
	return len(b), nil
}
