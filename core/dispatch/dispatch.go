// Package dispatch implements the batch dispatcher (§4.4): per-eventType
// sequential, cross-type parallel fan-out of a decoded BatchPayload, with a
// bounded processing deadline and an all-or-nothing ACK decision.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// DefaultProcessTimeout is the default per-batch deadline (§4.4).
const DefaultProcessTimeout = 3 * time.Second

// WireEventView is the read-only view of a WireEvent handed to a Handler,
// together with its original index in the batch (needed for okIndices
// bookkeeping and diagnostics).
type WireEventView struct {
	envelope.WireEvent
	Index int
}

// Options configures a Dispatcher.
type Options struct {
	// ProcessTimeout bounds how long the whole batch may take (§4.4, §5).
	// Default 3s.
	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

// Dispatcher routes the events of one batch to per-type handlers with strict
// per-type ordering and cross-type parallelism, and decides whether an ACK
// should be emitted.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	log      *slog.Logger
}

// New creates a Dispatcher backed by registry.
func New(registry *Registry, opts Options) *Dispatcher {
	timeout := opts.ProcessTimeout
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, timeout: timeout, log: log}
}

// Result is the outcome of dispatching one batch.
type Result struct {
	// OK is true iff every subscribed handler returned successfully within
	// the deadline. When true, OKIndices always covers every input index
	// (§4.4 Open Question: a no-subscriber batch ACKs the same way as a
	// fully-handled one).
	OK        bool
	OKIndices []int
	// Err is set when OK is false, for logging only; it is never surfaced to
	// a caller outside the dispatcher (§7).
	Err error
}

// Dispatch partitions events by eventType (preserving arrival order within
// each group), runs each group sequentially and groups concurrently, and
// returns whether the whole batch completed within the deadline (§4.4, §8
// properties 1–2).
func (d *Dispatcher) Dispatch(ctx context.Context, batch envelope.BatchPayload) Result {
	n := len(batch.Events)
	allIndices := make([]int, n)
	for i := range allIndices {
		allIndices[i] = i
	}

	if n == 0 {
		return Result{OK: true, OKIndices: allIndices}
	}

	handlers := d.registry.snapshot()

	groups := make(map[string][]WireEventView)
	order := make([]string, 0, len(handlers))
	for i, ev := range batch.Events {
		if _, ok := groups[ev.EventType]; !ok {
			order = append(order, ev.EventType)
		}
		groups[ev.EventType] = append(groups[ev.EventType], WireEventView{WireEvent: ev, Index: i})
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	errCh := make(chan error, len(order))
	pending := 0

	// One goroutine per eventType group gives cross-type parallelism; the
	// for loop inside each goroutine gives strict in-order, sequential
	// handler invocation within that type (§5, §8 properties 1-2). Each
	// batch has exactly one producer per eventType, so a keyed scheduler
	// would add nothing this plain per-type goroutine doesn't already give.
	for _, eventType := range order {
		hs := handlers[eventType]
		if len(hs) == 0 {
			// No subscriber: processed as a no-op, never blocks the ACK (§4.4).
			continue
		}
		views := groups[eventType]
		pending++
		go func(views []WireEventView, hs []Handler) {
			errCh <- func() (err error) {
				// A panicking handler fails the batch like a returned error.
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("dispatch: handler panicked: %v", r)
					}
				}()
				for _, v := range views {
					for _, h := range hs {
						if err := h(v); err != nil {
							return err
						}
					}
				}
				return nil
			}()
		}(views, hs)
	}

	for i := 0; i < pending; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				d.log.Warn("dispatch: handler failed, ACK suppressed", slog.Any("error", err))
				return Result{OK: false, Err: err}
			}
		case <-deadlineCtx.Done():
			d.log.Warn("dispatch: batch deadline exceeded, ACK suppressed", slog.Duration("timeout", d.timeout))
			return Result{OK: false, Err: sdkerr.BatchProcessingTimeout()}
		}
	}

	return Result{OK: true, OKIndices: allIndices}
}
