// Package channel defines the transport-agnostic Channel abstraction (§4.2).
// A Channel is responsible ONLY for framing and transport mechanics; all
// protocol semantics (heartbeat, dispatch, correlation, lifecycle) live above
// it in core/heartbeat, core/dispatch, core/correlator and core/client.
package channel

import (
	"context"
	"time"

	"github.com/codewandler/clstr-go/core/envelope"
)

// InboundHandler is invoked once per decoded inbound Envelope, on the
// backend's read goroutine. core/client's handler returns only once the
// envelope has been fully handled (for a batch, once dispatch has finished),
// so a backend delivers its next envelope only after that.
type InboundHandler func(env envelope.Envelope)

// Capabilities reports which protocol features a transport backend supports,
// so the facade can pick the right correlation/dispatch policy without a
// type switch on the concrete backend (§4.2, §4.4, §4.5).
type Capabilities struct {
	// SupportsQueries is false only for backends that cannot carry
	// client-initiated requests (none currently; kept for forward
	// compatibility with read-only backends).
	SupportsQueries bool
	// SupportsStreamAck is true for backends that participate in the
	// outbox.stream.batch / outbox.stream.ack exchange.
	SupportsStreamAck bool
	// SingleFlightQueries is true for backends with a single-flight query
	// policy (persistent bidi sockets); false for backends that allow
	// parallel in-flight queries.
	SingleFlightQueries bool
	// CorrelateByCorrelationID is true for backends that key responses by
	// correlationId (echoing requestId alongside); false for backends keyed
	// by requestId directly.
	CorrelateByCorrelationID bool
	// RequiresHandshake is true for persistent-bidi backends, where queries
	// and RegisterStreamConsumer must block until the first Pong (§4.6).
	// False for stateless backends (HTTP), which are ready immediately.
	RequiresHandshake bool
}

// Channel is the common interface implemented by every transport backend
// (§4.2): persistent bidirectional socket, request/response HTTP,
// parent-owning-child pipe, child-in-subordinate pipe.
type Channel interface {
	// Open establishes underlying I/O if the transport is stateful; a no-op
	// for stateless transports (e.g. HTTP).
	Open(ctx context.Context) error

	// Close tears down the channel's I/O and stops its background loops.
	// Pending queries are not held by the Channel; core/client's Close
	// rejects them with a disconnect error. Always
	// completes without returning an error to the caller's control flow
	// blocking (§7): Close itself never panics, but may return a non-nil
	// error describing a non-fatal teardown issue for logging.
	Close() error

	// IsReady reports, synchronously, whether the transport considers
	// itself usable for requests (§4.6 gating).
	IsReady() bool

	// AwaitReady blocks until IsReady() becomes true or deadline elapses,
	// returning false on timeout.
	AwaitReady(ctx context.Context) bool

	// Send encodes and hands off one envelope.
	Send(ctx context.Context, env envelope.Envelope) error

	// SetInbound installs the single handler invoked on each decoded inbound
	// envelope. Must be called before Open for backends that may deliver
	// immediately upon connecting.
	SetInbound(h InboundHandler)

	// Capabilities reports this transport's protocol support.
	Capabilities() Capabilities
}

// MaxMessageBytesDefault is the default envelope size cap for IPC and
// bidi-socket backends (§6).
const MaxMessageBytesDefault = 1 << 20 // 1 MiB

// SizeGuardOverheadBytes is the fixed overhead added to the serialized
// envelope length before comparing against maxMessageBytes (§4.5, §6, §8
// property 4).
const SizeGuardOverheadBytes = 256

// DefaultHeartbeatTimeout is the liveness window used when a backend's
// config leaves HeartbeatTimeout at zero.
const DefaultHeartbeatTimeout = 30 * time.Second
