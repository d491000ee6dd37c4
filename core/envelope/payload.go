package envelope

import (
	"encoding/json"
	"fmt"
)

// WireEvent is one event carried inside a BatchPayload (§3, §6). Payload may
// be a structure or a JSON-text string; the core leaves it untouched and
// hands it to the subscriber's handler unparsed.
type WireEvent struct {
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	AggregateID string          `json:"aggregateId,omitempty"`
	BlockHeight *int64          `json:"blockHeight,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

// Validate enforces the WireEvent invariant: eventType non-empty.
func (w WireEvent) Validate() error {
	if w.EventType == "" {
		return fmt.Errorf("wire event: eventType is empty")
	}
	return nil
}

// BatchPayload is the payload of an outbox.stream.batch Envelope (§3, §6).
// Arrival order within Events is significant for per-type sequencing.
type BatchPayload struct {
	Events     []WireEvent `json:"events"`
	StreamID   string      `json:"streamId,omitempty"`
	FromOffset *int64      `json:"fromOffset,omitempty"`
	ToOffset   *int64      `json:"toOffset,omitempty"`
}

// AckPayload is the payload of an outbox.stream.ack Envelope (§3, §6).
type AckPayload struct {
	OK         bool   `json:"ok"`
	OKIndices  []int  `json:"okIndices,omitempty"`
	StreamID   string `json:"streamId,omitempty"`
	FromOffset *int64 `json:"ackFromOffset,omitempty"`
	ToOffset   *int64 `json:"ackToOffset,omitempty"`
}

// QueryRequestPayload is the payload of a query.request Envelope (§3, §6).
// `constructorName` is accepted as a synonym for `name` on decode.
type QueryRequestPayload struct {
	Name string          `json:"name"`
	DTO  json.RawMessage `json:"dto,omitempty"`
}

// Validate enforces the QueryRequestPayload invariant: name non-empty.
func (q QueryRequestPayload) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("query request: name is empty")
	}
	return nil
}

// UnmarshalJSON accepts both {"name":...} and the legacy
// {"constructorName":...} spelling (§6).
func (q *QueryRequestPayload) UnmarshalJSON(data []byte) error {
	type alias struct {
		Name            string          `json:"name"`
		ConstructorName string          `json:"constructorName"`
		DTO             json.RawMessage `json:"dto,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	q.Name = a.Name
	if q.Name == "" {
		q.Name = a.ConstructorName
	}
	q.DTO = a.DTO
	return nil
}

// QueryResponsePayload is the payload of a query.response Envelope (§3, §6).
type QueryResponsePayload struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"err,omitempty"`
}

// PingPayload is the (optional) payload of a ping/pong Envelope (§6).
type PingPayload struct {
	TS       int64  `json:"ts,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	SID      string `json:"sid,omitempty"`
	Password string `json:"password,omitempty"`
}

// ErrorPayload is the payload of a server-originated `error` Envelope.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
