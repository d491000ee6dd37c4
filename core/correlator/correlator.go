// Package correlator implements the query correlator (§4.5): it pairs an
// outgoing QueryRequest envelope with its eventual QueryResponse (or error),
// enforcing a size guard, a readiness gate, a per-transport concurrency
// policy (single-flight or parallel), and a hard deadline.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// DefaultTimeout is the default per-query deadline (§4.5).
const DefaultTimeout = 5 * time.Second

// Sender is the minimal surface the correlator needs from a Channel: ready
// gating and an outbound send. Kept narrow so correlator tests don't need a
// full channel.Channel fake.
type Sender interface {
	IsReady() bool
	Send(ctx context.Context, env envelope.Envelope) error
}

// Options configures a Correlator.
type Options struct {
	// Timeout bounds a single query exchange end to end. Default 5s.
	Timeout time.Duration
	// MaxMessageBytes is the size guard cap (§4.5, §6). Default 1 MiB.
	MaxMessageBytes int
	// SingleFlight selects the persistent-bidi fail-fast policy: a second
	// query issued while one is in flight fails immediately with
	// sdkerr.ErrQueryInFlight instead of running concurrently (§4.5).
	SingleFlight bool
	// CorrelateByCorrelationID selects correlationId as the wire key
	// (echoing requestId alongside) instead of requestId directly (§4.5).
	CorrelateByCorrelationID bool
	Logger                   *slog.Logger
}

type pending struct {
	resolve chan envelope.QueryResponsePayload
	reject  chan error
}

// Correlator owns the pending-query table for one Channel (§3 PendingQuery,
// §4.5). Exactly one instance backs one Client/Channel pair.
type Correlator struct {
	sender  Sender
	timeout time.Duration
	maxSize int
	byCorr  bool
	log     *slog.Logger

	inflight  atomic.Bool
	singleton bool

	mu      sync.Mutex
	pending map[string]*pending
}

// New creates a Correlator bound to sender.
func New(sender Sender, opts Options) *Correlator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxSize := opts.MaxMessageBytes
	if maxSize <= 0 {
		maxSize = channel.MaxMessageBytesDefault
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		sender:    sender,
		timeout:   timeout,
		maxSize:   maxSize,
		byCorr:    opts.CorrelateByCorrelationID,
		log:       log,
		singleton: opts.SingleFlight,
		pending:   make(map[string]*pending),
	}
}

// Query sends a QueryRequest and awaits its QueryResponse, honoring the size
// guard, readiness gate, single-flight/parallel policy and deadline of §4.5.
// inline, when non-nil, is a transport-supplied synchronous result (HTTP);
// when present it is used directly and no correlation-key wait occurs.
func (c *Correlator) Query(ctx context.Context, req envelope.QueryRequestPayload, inline *envelope.QueryResponsePayload) (json.RawMessage, error) {
	if inline != nil {
		return resolveResponse(*inline)
	}

	if c.singleton {
		if !c.inflight.CompareAndSwap(false, true) {
			return nil, sdkerr.ErrQueryInFlight
		}
		defer c.inflight.Store(false)
	}

	key, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("correlator: generate key: %w", err)
	}

	env, err := envelope.New(envelope.ActionQueryRequest, req)
	if err != nil {
		return nil, err
	}
	if c.byCorr {
		env.CorrelationID = key
		env.RequestID = key
	} else {
		env.RequestID = key
	}

	size, err := envelope.Size(env)
	if err != nil {
		return nil, err
	}
	if size+channel.SizeGuardOverheadBytes > c.maxSize {
		return nil, sdkerr.ErrMessageTooLarge
	}

	if !c.sender.IsReady() {
		return nil, sdkerr.ErrNotConnected
	}

	p := &pending{
		resolve: make(chan envelope.QueryResponsePayload, 1),
		reject:  make(chan error, 1),
	}
	c.mu.Lock()
	c.pending[key] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.sender.Send(ctx, env); err != nil {
		return nil, err
	}

	deadline, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-p.resolve:
		return resolveResponse(resp)
	case err := <-p.reject:
		return nil, err
	case <-deadline.Done():
		return nil, sdkerr.ErrQueryTimeout
	}
}

func resolveResponse(resp envelope.QueryResponsePayload) (json.RawMessage, error) {
	switch {
	case resp.OK:
		return resp.Data, nil
	case resp.Err != "":
		return nil, sdkerr.NewQueryFailedError(resp.Err)
	default:
		return nil, sdkerr.ErrInvalidResponse
	}
}

// OnResponse delivers a decoded QueryResponse envelope to its pending query,
// keyed by correlationId or requestId depending on configuration. A response
// with no matching pending entry (already timed out, or unknown key) is
// discarded silently (§4.5).
func (c *Correlator) OnResponse(env envelope.Envelope, payload envelope.QueryResponsePayload) {
	key, ok := env.CorrelationKey(c.byCorr)
	if !ok {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("correlator: response for unknown or expired key discarded", slog.String("key", key))
		return
	}
	select {
	case p.resolve <- payload:
	default:
	}
}

// OnServerError delivers a server-originated `error` envelope to its pending
// query (§4.5).
func (c *Correlator) OnServerError(env envelope.Envelope, payload envelope.ErrorPayload) {
	key, ok := env.CorrelationKey(c.byCorr)
	if !ok {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.reject <- sdkerr.NewServerError(payload.Code, payload.Message):
	default:
	}
}

// Reject rejects every pending query with err (§4.5: close/disconnect
// handling) and clears the table.
func (c *Correlator) Reject(err error) {
	c.mu.Lock()
	pendings := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range pendings {
		select {
		case p.reject <- err:
		default:
		}
	}
}
