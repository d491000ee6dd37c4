// Package client implements the facade (§4.6, §6): the single public entry
// point wiring a Channel, the heartbeat tracker, the batch dispatcher, the
// query correlator and the connection lifecycle state machine into one
// cohesive object.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/correlator"
	"github.com/codewandler/clstr-go/core/dispatch"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/heartbeat"
	"github.com/codewandler/clstr-go/core/loop"
	"github.com/codewandler/clstr-go/core/metrics"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// State is the connection lifecycle state of §4.6.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpenUnverified
	StateOpenReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpenUnverified:
		return "open_unverified"
	case StateOpenReady:
		return "open_ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Options configures a Client.
type Options struct {
	// Channel is the transport backend. Required.
	Channel channel.Channel

	// Password is carried in the payload of every Pong reply and of every
	// client-initiated Ping (§4.3).
	Password string

	// HeartbeatTimeout is the liveness window (§4.3). Default 30s.
	HeartbeatTimeout time.Duration
	// ActivePing enables client-initiated Ping on a backoff schedule (§4.3).
	ActivePing bool

	// ProcessTimeout bounds one batch dispatch (§4.4). Default 3s.
	ProcessTimeout time.Duration
	// QueryTimeout bounds one query exchange (§4.5). Default 5s.
	QueryTimeout time.Duration
	// MaxMessageBytes is the outgoing size guard cap (§4.5, §6). Default 1 MiB.
	MaxMessageBytes int

	// Managed is not read by the Client: a persistent-bidi backend's managed
	// or attached mode (§4.6) is fixed when that backend is constructed
	// (transport/ws: URL vs Conn).
	Managed bool

	Logger  *slog.Logger
	Metrics metrics.SDKMetrics
}

// Client is the unified public entry point: subscribe, query, close (§4.6 §10.10
// facade requirement).
type Client struct {
	ch      channel.Channel
	caps    channel.Capabilities
	log     *slog.Logger
	metrics metrics.SDKMetrics

	loop *loop.Loop

	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	correlator *correlator.Correlator
	heartbeat  *heartbeat.Tracker

	password string

	mu          sync.RWMutex
	state       State
	handshakeCh chan struct{}
	handshakeOk bool

	monitorStop chan struct{}
	monitorDone chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

// New wires a Client from opts. The Channel's Open is not called here; call
// Connect to bring the Client up.
func New(opts Options) (*Client, error) {
	if opts.Channel == nil {
		return nil, sdkerr.NewTransportInitError("client", "Options.Channel is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NopSDKMetrics()
	}

	caps := opts.Channel.Capabilities()

	c := &Client{
		ch:          opts.Channel,
		caps:        caps,
		log:         log,
		metrics:     m,
		loop:        loop.New(loop.Options{Logger: log}),
		registry:    dispatch.NewRegistry(!caps.RequiresHandshake),
		password:    opts.Password,
		state:       StateClosed,
		handshakeCh: make(chan struct{}),
	}

	c.dispatcher = dispatch.New(c.registry, dispatch.Options{
		ProcessTimeout: opts.ProcessTimeout,
		Logger:         log,
	})
	c.correlator = correlator.New(opts.Channel, correlator.Options{
		Timeout:                  opts.QueryTimeout,
		MaxMessageBytes:          opts.MaxMessageBytes,
		SingleFlight:             caps.SingleFlightQueries,
		CorrelateByCorrelationID: caps.CorrelateByCorrelationID,
		Logger:                   log,
	})
	c.heartbeat = heartbeat.New(heartbeat.Options{
		Timeout:    opts.HeartbeatTimeout,
		ActivePing: opts.ActivePing,
		Logger:     log,
	}, c.sendPing)

	opts.Channel.SetInbound(c.onInbound)

	return c, nil
}

// Connect opens the underlying channel and, for transports that support a
// handshake, waits for nothing: handshake completion gates queries, not
// Connect itself (§4.6).
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateOpening)
	if err := c.ch.Open(ctx); err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("client: open: %w", err)
	}
	c.setState(StateOpenUnverified)
	c.heartbeat.SetIOConnected(true)
	c.heartbeat.Start(ctx)
	c.startHeartbeatMonitor()

	if !c.caps.RequiresHandshake {
		// Stateless backends (HTTP) are immediately ready; no handshake to await.
		c.markHandshakeComplete()
		c.setState(StateOpenReady)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.ConnectionState(s.String())
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) markHandshakeComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.handshakeOk {
		c.handshakeOk = true
		close(c.handshakeCh)
	}
}

// awaitHandshake blocks until the first Pong (or our own Pong reply) has been
// observed, or ctx is done (§4.6: queries and RegisterStreamConsumer are
// gated; stream batches are not).
func (c *Client) awaitHandshake(ctx context.Context) error {
	c.mu.RLock()
	ch := c.handshakeCh
	c.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startHeartbeatMonitor launches a goroutine that polls heartbeat liveness
// and counts a heartbeat-missed event on each observed ready-to-not-ready
// transition, so a connection that goes silent past the liveness window is
// visible to metrics. Nothing else evaluates BusinessReady: query gating
// waits on the handshake and the channel's IsReady instead (§4.3, §4.6).
func (c *Client) startHeartbeatMonitor() {
	interval := c.heartbeat.Timeout() / 4
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c.monitorStop = make(chan struct{})
	c.monitorDone = make(chan struct{})
	go c.heartbeatMonitorLoop(interval)
}

func (c *Client) heartbeatMonitorLoop(interval time.Duration) {
	defer close(c.monitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasReady := false
	for {
		select {
		case <-c.monitorStop:
			return
		case <-ticker.C:
			ready := c.heartbeat.BusinessReady()
			if wasReady && !ready {
				c.metrics.HeartbeatMissed()
			}
			wasReady = ready
		}
	}
}

func (c *Client) sendPing(ctx context.Context) error {
	env, err := envelope.New(envelope.ActionPing, envelope.PingPayload{Password: c.password})
	if err != nil {
		return err
	}
	return c.ch.Send(ctx, env)
}

// onInbound is the single entry point for every decoded inbound envelope,
// called from the Channel's read goroutine. Dispatch is submitted to the
// Client's event loop so every state change an inbound envelope triggers
// (lastPong, handshake flag, pending-query resolution) is serialized on one
// goroutine regardless of how many concurrent readers a Channel
// implementation uses (§5). It returns only once the envelope has been fully
// handled.
func (c *Client) onInbound(env envelope.Envelope) {
	if err := c.loop.Submit(context.Background(), func() { c.dispatchInbound(env) }); err != nil {
		c.log.Debug("client: inbound dropped, loop closed", slog.String("action", string(env.Action)))
	}
}

func (c *Client) dispatchInbound(env envelope.Envelope) {
	switch envelope.Canonicalize(env.Action) {
	case envelope.ActionPing:
		c.handlePing(env)
	case envelope.ActionPong:
		c.handlePong(env)
	case envelope.ActionOutboxStreamBatch:
		c.handleBatch(env)
	case envelope.ActionQueryResponse:
		c.handleQueryResponse(env)
	case envelope.ActionError:
		c.handleServerError(env)
	default:
		c.log.Debug("client: unrecognized inbound action ignored", slog.String("action", string(env.Action)))
	}
}

func (c *Client) handlePing(env envelope.Envelope) {
	var ping envelope.PingPayload
	_ = env.DecodePayload(&ping)

	pong, err := envelope.New(envelope.ActionPong, envelope.PingPayload{Password: c.password})
	if err != nil {
		return
	}
	pong.CorrelationID = env.CorrelationID
	pong.RequestID = env.RequestID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ch.Send(ctx, pong); err != nil {
		c.log.Warn("client: pong reply failed", slog.Any("error", err))
		return
	}
	c.observeLiveness()
}

func (c *Client) handlePong(env envelope.Envelope) {
	c.observeLiveness()
}

func (c *Client) observeLiveness() {
	c.heartbeat.OnPong()
	c.mu.Lock()
	wasReady := c.state == StateOpenReady
	c.state = StateOpenReady
	c.mu.Unlock()
	if !wasReady {
		c.metrics.ConnectionState(StateOpenReady.String())
	}
	c.markHandshakeComplete()
}

func (c *Client) handleBatch(env envelope.Envelope) {
	var batch envelope.BatchPayload
	if err := env.DecodePayload(&batch); err != nil {
		c.log.Warn("client: malformed batch payload discarded", slog.Any("error", err))
		return
	}

	timer := c.metrics.BatchDuration()
	ctx := context.Background()
	res := c.dispatcher.Dispatch(ctx, batch)
	timer.ObserveDuration()
	c.metrics.BatchCompleted(res.OK)

	if !res.OK {
		return
	}

	style := envelope.StyleOf(env.Action)
	ack, err := envelope.New(envelope.MirrorStyle(envelope.ActionOutboxStreamAck, style), envelope.AckPayload{
		OK:        true,
		OKIndices: res.OKIndices,
		StreamID:  batch.StreamID,
	})
	if err != nil {
		c.log.Warn("client: ack construction failed", slog.Any("error", err))
		return
	}
	ack.CorrelationID = env.CorrelationID

	sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ch.Send(sendCtx, ack); err != nil {
		c.log.Warn("client: ack send failed", slog.Any("error", err))
	}
}

func (c *Client) handleQueryResponse(env envelope.Envelope) {
	var payload envelope.QueryResponsePayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	c.correlator.OnResponse(env, payload)
}

func (c *Client) handleServerError(env envelope.Envelope) {
	var payload envelope.ErrorPayload
	if err := env.DecodePayload(&payload); err != nil {
		return
	}
	c.correlator.OnServerError(env, payload)
}

// Subscribe registers h to handle every WireEvent of eventType (§4.4). Fails
// with sdkerr.ErrDuplicateSubscription on persistent-bidi backends when
// eventType already has a handler.
func (c *Client) Subscribe(eventType string, h dispatch.Handler) error {
	return c.registry.Subscribe(eventType, h)
}

// Unsubscribe removes every handler registered for eventType.
func (c *Client) Unsubscribe(eventType string) {
	c.registry.Unsubscribe(eventType)
}

// Query issues a query.request and awaits its response, gated by the
// handshake on persistent-bidi transports (§4.6).
func (c *Client) Query(ctx context.Context, name string, dto any, out any) error {
	if c.caps.RequiresHandshake {
		if err := c.awaitHandshake(ctx); err != nil {
			return err
		}
	}

	var dtoRaw json.RawMessage
	if dto != nil {
		b, err := json.Marshal(dto)
		if err != nil {
			return fmt.Errorf("client: marshal query dto: %w", err)
		}
		dtoRaw = b
	}

	timer := c.metrics.QueryDuration(name)
	defer timer.ObserveDuration()

	data, err := c.correlator.Query(ctx, envelope.QueryRequestPayload{Name: name, DTO: dtoRaw}, nil)
	c.metrics.QueryCompleted(name, err == nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// IsReady reports the underlying channel's readiness (§4.2).
func (c *Client) IsReady() bool {
	return c.ch.IsReady()
}

// Close tears the Client down: stops the heartbeat loop, rejects pending
// queries, closes the channel, and stops the internal event loop (§4.6).
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.setState(StateClosing)
		c.heartbeat.Stop()
		if c.monitorStop != nil {
			close(c.monitorStop)
			<-c.monitorDone
		}
		c.correlator.Reject(sdkerr.ErrDisconnected)
		closeErr = c.ch.Close()
		c.loop.Close()
		c.setState(StateClosed)
	})
	return closeErr
}
