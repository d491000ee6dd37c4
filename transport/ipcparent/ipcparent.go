// Package ipcparent implements the parent-owning-child pipe backend (§4.2):
// the process that embeds this SDK spawns and owns a child process, and
// exchanges newline-delimited JSON envelopes over its stdin/stdout pipes.
// Grounded on the stdio-subprocess pattern of a one-shot MCP stdio client,
// generalized to a long-running framed-JSON child and the Channel interface.
package ipcparent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// Options configures a Channel.
type Options struct {
	// Command and Args launch the child process. Required.
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Channel implements channel.Channel over a child process's stdin/stdout,
// framed as one JSON envelope per line.
type Channel struct {
	command string
	args    []string
	log     *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	inbound channel.InboundHandler

	ready  atomic.Bool
	done   chan struct{}
	closed atomic.Bool
}

// New creates a Channel from opts.
func New(opts Options) (*Channel, error) {
	if opts.Command == "" {
		return nil, sdkerr.NewTransportInitError("ipc-parent", "Command is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		command: opts.Command,
		args:    opts.Args,
		log:     log,
		done:    make(chan struct{}),
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

// Open spawns the child process and starts reading its stdout (§4.2).
func (c *Channel) Open(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ipc-parent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ipc-parent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ipc-parent: start child: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.ready.Store(true)

	go c.readLoop(stdout)
	return nil
}

func (c *Channel) readLoop(stdout io.ReadCloser) {
	defer close(c.done)
	defer c.ready.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), channel.MaxMessageBytesDefault*2)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.log.Warn("ipc-parent: malformed envelope discarded", slog.Any("error", err))
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
		c.log.Warn("ipc-parent: read error", slog.Any("error", err))
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
		return fmt.Errorf("ipc-parent: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: %v", sdkerr.ErrConnection, err)
	}
	return nil
}

// Close terminates the child process and waits for its stdout to drain.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.ready.Store(false)
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	<-c.done
	if c.cmd != nil {
		_ = c.cmd.Wait()
	}
	return nil
}

var _ channel.Channel = (*Channel)(nil)
