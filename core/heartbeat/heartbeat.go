// Package heartbeat tracks liveness for persistent-bidi transports (§4.3):
// last-pong timestamps, an optional client-initiated Ping loop, and the
// business-ready check (I/O connected and a recent Pong). Replies to a peer's
// Ping are sent by core/client, not by this package.
package heartbeat

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// Options configures a Tracker.
type Options struct {
	// Timeout is the liveness window: the transport is business-ready iff
	// the I/O is connected AND now-lastPong < Timeout (§4.3). Default 30s.
	Timeout time.Duration
	// ActivePing, when true, makes the tracker send Ping itself on an
	// exponential-backoff-with-jitter schedule (§4.3, §9 open question: off
	// by default, the client stays quiet unless explicitly configured).
	ActivePing bool
	Logger     *slog.Logger
}

// SendPingFunc sends a Ping envelope on the owning channel. Supplied by the
// caller (core/client) so this package stays transport-agnostic.
type SendPingFunc func(ctx context.Context) error

// Tracker tracks lastPong and, optionally, drives an active ping loop.
type Tracker struct {
	timeout time.Duration
	log     *slog.Logger

	lastPongUnixNano atomic.Int64
	ioConnected      atomic.Bool

	sendPing SendPingFunc
	active   bool

	stop chan struct{}
	done chan struct{}
}

// New creates a Tracker. If opts.ActivePing is true, call Start to begin the
// ping loop once sendPing is available.
func New(opts Options, sendPing SendPingFunc) *Tracker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		timeout:  timeout,
		log:      log,
		sendPing: sendPing,
		active:   opts.ActivePing,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	return t
}

// Timeout returns the configured liveness window, for callers that size
// their own polling interval off it (e.g. a missed-heartbeat monitor).
func (t *Tracker) Timeout() time.Duration { return t.timeout }

// SetIOConnected updates whether the underlying I/O primitive is connected.
// Business-readiness requires both this and a fresh lastPong.
func (t *Tracker) SetIOConnected(connected bool) {
	t.ioConnected.Store(connected)
}

// OnPong records a fresh Pong observation, resetting the ping backoff.
func (t *Tracker) OnPong() {
	t.lastPongUnixNano.Store(time.Now().UnixNano())
}

// BusinessReady reports whether the transport is connected AND within the
// heartbeat timeout window (§4.3).
func (t *Tracker) BusinessReady() bool {
	if !t.ioConnected.Load() {
		return false
	}
	last := t.lastPongUnixNano.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < t.timeout
}

// Start launches the active ping loop (no-op if ActivePing was false). The
// interval starts at Timeout/2, doubles on each send, caps at Timeout, and
// resets to Timeout/2 on a fresh Pong (§4.3).
func (t *Tracker) Start(ctx context.Context) {
	if !t.active {
		close(t.done)
		return
	}
	go t.pingLoop(ctx)
}

func (t *Tracker) pingLoop(ctx context.Context) {
	defer close(t.done)

	interval := t.timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	lastSeenPong := t.lastPongUnixNano.Load()

	timer := time.NewTimer(jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-timer.C:
			if seen := t.lastPongUnixNano.Load(); seen != lastSeenPong {
				lastSeenPong = seen
				interval = t.timeout / 2
			} else {
				interval *= 2
				if interval > t.timeout {
					interval = t.timeout
				}
			}

			if err := t.sendPing(ctx); err != nil {
				t.log.Warn("heartbeat: ping send failed", slog.Any("error", err))
			}

			timer.Reset(jitter(interval))
		}
	}
}

// jitter returns d scaled by a random factor in [0.8, 1.2) to avoid
// synchronized ping storms across many client instances.
func jitter(d time.Duration) time.Duration {
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * factor)
}

// Stop halts the active ping loop, if running, and waits for it to exit.
func (t *Tracker) Stop() {
	if !t.active {
		return
	}
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}
