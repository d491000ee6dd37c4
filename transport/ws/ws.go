// Package ws implements the persistent bidirectional socket backend (§4.2,
// §4.6) over WebSocket, in managed mode (owns and reconnects the socket) or
// attached mode (the host supplies an already-dialed connection; no
// reconnect). Grounded on the read-loop/pending-map pattern of a
// hub-client-style WebSocket RPC client, generalized to the Channel
// interface and its exponential-backoff-with-jitter reconnect loop (§4.6).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/metrics"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

const (
	initialBackoff = 200 * time.Millisecond
	backoffCap     = 3 * time.Second
	backoffMult    = 2
)

// Options configures a Channel.
type Options struct {
	// URL is the ws:// or wss:// endpoint to dial. Required in managed mode.
	URL string
	// Conn, when set, selects attached mode: the host already dialed this
	// connection and owns its lifecycle; this Channel only reads/writes it
	// and never reconnects (§4.6).
	Conn *websocket.Conn
	// Managed has no effect on the mode: a Channel built without Conn is
	// always managed, and one built with Conn is always attached.
	Managed bool
	Logger  *slog.Logger
	// Metrics receives reconnect-attempt counts. Defaults to a no-op sink.
	Metrics metrics.SDKMetrics
}

// Channel implements channel.Channel over a WebSocket connection.
type Channel struct {
	url     string
	managed bool
	log     *slog.Logger
	metrics metrics.SDKMetrics

	mu       sync.Mutex
	conn     *websocket.Conn
	attached bool

	inbound channel.InboundHandler

	ready  atomic.Bool
	stop   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// New creates a Channel from opts.
func New(opts Options) (*Channel, error) {
	if opts.Conn == nil && opts.URL == "" {
		return nil, sdkerr.NewTransportInitError("ws", "either URL (managed) or Conn (attached) is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NopSDKMetrics()
	}
	c := &Channel{
		url:     opts.URL,
		managed: opts.Conn == nil || opts.Managed,
		log:     log,
		metrics: m,
		stop:    make(chan struct{}),
	}
	if opts.Conn != nil {
		c.conn = opts.Conn
		c.attached = true
	}
	return c, nil
}

func (c *Channel) SetInbound(h channel.InboundHandler) { c.inbound = h }

func (c *Channel) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		SupportsQueries:          true,
		SupportsStreamAck:        true,
		SingleFlightQueries:      true,
		CorrelateByCorrelationID: false,
		RequiresHandshake:        true,
	}
}

// Open dials (managed mode) or starts the read loop over the attached
// connection (attached mode).
func (c *Channel) Open(ctx context.Context) error {
	if c.attached {
		c.ready.Store(true)
		c.startReadLoop(c.conn)
		return nil
	}
	if err := c.dial(ctx); err != nil {
		return err
	}
	if c.managed {
		c.wg.Add(1)
		go c.reconnectLoop()
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.ready.Store(true)
	c.startReadLoop(conn)
	return nil
}

func (c *Channel) startReadLoop(conn *websocket.Conn) {
	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer func() {
		c.ready.Store(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.log.Warn("ws: read error", slog.Any("error", err))
			}
			return
		}
		var env envelope.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("ws: malformed envelope discarded", slog.Any("error", err))
			continue
		}
		if err := env.Validate(); err != nil {
			continue
		}
		if c.inbound != nil {
			c.inbound(env)
		}
	}
}

// reconnectLoop redials with exponential backoff and jitter while the
// connection is down, until Close (§4.6). Attached-mode channels never run
// this loop.
func (c *Channel) reconnectLoop() {
	defer c.wg.Done()
	backoff := initialBackoff

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if c.ready.Load() {
			select {
			case <-c.stop:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		select {
		case <-c.stop:
			return
		case <-time.After(jitter(backoff)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.metrics.ReconnectAttempt()
		err := c.dial(ctx)
		cancel()
		if err != nil {
			c.log.Warn("ws: reconnect attempt failed", slog.Any("error", err))
			backoff *= backoffMult
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		backoff = initialBackoff
	}
}

func jitter(d time.Duration) time.Duration {
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * factor)
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

func (c *Channel) Send(ctx context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.ready.Load() {
		return sdkerr.ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %w", err)
	}
	c.mu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", sdkerr.ErrConnection, err)
	}
	return nil
}

// Close stops the reconnect loop, closes the connection (unless attached and
// host-owned), and waits for the read loop to exit.
func (c *Channel) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stop)
		c.ready.Store(false)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil && !c.attached {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	}
	c.wg.Wait()
	return nil
}

var _ channel.Channel = (*Channel)(nil)
