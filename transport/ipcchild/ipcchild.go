// Package ipcchild implements the child-in-subordinate pipe backend (§4.2):
// this process IS the child, and talks to its parent over its own
// stdin/stdout, framed as one JSON envelope per line. Mirrors
// transport/ipcparent's framing but binds directly to the process's own
// standard streams instead of spawning a subprocess.
package ipcchild

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// Options configures a Channel.
type Options struct {
	// In and Out are required (typically os.Stdin and os.Stdout); New fails
	// when either is nil.
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

// Channel implements channel.Channel over this process's own stdio.
type Channel struct {
	in  io.Reader
	out io.Writer
	log *slog.Logger

	writeMu sync.Mutex
	inbound channel.InboundHandler

	ready  atomic.Bool
	done   chan struct{}
	closed atomic.Bool
}

// New creates a Channel from opts. In/Out must be supplied by the caller
// (typically os.Stdin/os.Stdout); there is no default to avoid silently
// binding to the process's real stdio from inside a test.
func New(opts Options) (*Channel, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, sdkerr.NewTransportInitError("ipc-child", "In and Out are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		in:   opts.In,
		out:  opts.Out,
		log:  log,
		done: make(chan struct{}),
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

// Open starts reading the parent's writes to our stdin.
func (c *Channel) Open(ctx context.Context) error {
	c.ready.Store(true)
	go c.readLoop()
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer c.ready.Store(false)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), channel.MaxMessageBytesDefault*2)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.log.Warn("ipc-child: malformed envelope discarded", slog.Any("error", err))
			continue
		}
		if err := env.Validate(); err != nil {
			continue
		}
		if c.inbound != nil {
			c.inbound(env)
		}
	}
	if err := scanner.Err(); err != nil && !c.closed.Load() {
		c.log.Warn("ipc-child: read error", slog.Any("error", err))
	}
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
	if !c.ready.Load() {
		return sdkerr.ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc-child: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.out.Write(data); err != nil {
		return fmt.Errorf("%w: %v", sdkerr.ErrConnection, err)
	}
	return nil
}

// Close marks the channel not-ready. The read loop exits on its own once the
// parent closes our stdin (EOF); Close does not forcibly interrupt it since
// this process does not own its own stdio lifecycle.
func (c *Channel) Close() error {
	c.closed.Store(true)
	c.ready.Store(false)
	return nil
}

var _ channel.Channel = (*Channel)(nil)
