// Package nats implements an additional Channel backend over NATS core
// pub/sub, beyond the four spec-mandated transports. It adapts the
// shard-subject + inbox-reply pattern of the old cluster transport to the
// single bidirectional Channel interface: one subject carries every envelope
// this client receives, and outgoing envelopes are published to a separate
// subject that the server side of this channel subscribes to.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

type closeFunc = func()

// Connector creates the underlying NATS connection. Mirrors the connection
// sharing/ownership pattern of the teacher's adapters/nats Connector.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ConnectURL dials a single NATS server, allowing at most 3 reconnect
// attempts after a lost connection.
func ConnectURL(url string) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(url, natsgo.MaxReconnects(3))
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// Options configures a Channel.
type Options struct {
	// Connect creates the underlying connection. Required.
	Connect Connector
	// InboundSubject is where this channel receives envelopes (ping, batch,
	// query response, error). Required.
	InboundSubject string
	// OutboundSubject is where this channel publishes envelopes it sends.
	// Required.
	OutboundSubject string
	Logger          *slog.Logger
}

// Channel implements channel.Channel over NATS core pub/sub.
type Channel struct {
	connect Connector
	inSubj  string
	outSubj string
	log     *slog.Logger

	mu      sync.Mutex
	nc      *natsgo.Conn
	closeNc closeFunc
	sub     *natsgo.Subscription

	inbound channel.InboundHandler
	ready   atomic.Bool
	closed  atomic.Bool
}

// New creates a Channel from opts.
func New(opts Options) (*Channel, error) {
	if opts.Connect == nil {
		return nil, sdkerr.NewTransportInitError("nats", "Connect is required")
	}
	if opts.InboundSubject == "" || opts.OutboundSubject == "" {
		return nil, sdkerr.NewTransportInitError("nats", "InboundSubject and OutboundSubject are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		connect: opts.Connect,
		inSubj:  opts.InboundSubject,
		outSubj: opts.OutboundSubject,
		log:     log.With(slog.String("transport", "nats")),
	}, nil
}

func (c *Channel) SetInbound(h channel.InboundHandler) { c.inbound = h }

func (c *Channel) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		SupportsQueries:          true,
		SupportsStreamAck:        true,
		SingleFlightQueries:      false,
		CorrelateByCorrelationID: true,
		RequiresHandshake:        true,
	}
}

// Open dials the connection and subscribes to the inbound subject.
func (c *Channel) Open(ctx context.Context) error {
	nc, closeNc, err := c.connect()
	if err != nil {
		return fmt.Errorf("nats: connect: %w", err)
	}

	sub, err := nc.Subscribe(c.inSubj, func(msg *natsgo.Msg) {
		var env envelope.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			c.log.Warn("nats: malformed envelope discarded", slog.Any("error", err))
			return
		}
		if err := env.Validate(); err != nil {
			return
		}
		if c.inbound != nil {
			c.inbound(env)
		}
	})
	if err != nil {
		closeNc()
		return fmt.Errorf("nats: subscribe inbound: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.closeNc = closeNc
	c.sub = sub
	c.mu.Unlock()

	c.ready.Store(true)
	return nil
}

func (c *Channel) IsReady() bool { return c.ready.Load() }

func (c *Channel) AwaitReady(ctx context.Context) bool {
	if c.ready.Load() {
		return true
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.ready.Load() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// Send publishes env to the outbound subject. NATS core pub/sub has no
// delivery acknowledgement of its own; the envelope's correlation fields
// carry request/response pairing at the protocol layer above.
func (c *Channel) Send(ctx context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil || !c.ready.Load() {
		return sdkerr.ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("nats: marshal envelope: %w", err)
	}
	if err := nc.Publish(c.outSubj, data); err != nil {
		return fmt.Errorf("%w: %v", sdkerr.ErrConnection, err)
	}
	return nil
}

func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.ready.Store(false)

	c.mu.Lock()
	sub := c.sub
	closeNc := c.closeNc
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if closeNc != nil {
		closeNc()
	}
	return nil
}

var _ channel.Channel = (*Channel)(nil)
