package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_BusinessReady(t *testing.T) {
	tr := New(Options{Timeout: 50 * time.Millisecond}, nil)

	require.False(t, tr.BusinessReady(), "not ready before connect/pong")

	tr.SetIOConnected(true)
	require.False(t, tr.BusinessReady(), "no pong yet")

	tr.OnPong()
	require.True(t, tr.BusinessReady())

	time.Sleep(60 * time.Millisecond)
	require.False(t, tr.BusinessReady(), "stale pong")
}

func TestTracker_BusinessReady_RequiresIOConnected(t *testing.T) {
	tr := New(Options{Timeout: time.Second}, nil)
	tr.OnPong()
	require.False(t, tr.BusinessReady(), "io not connected")
}

func TestTracker_ActivePing_SendsAndBackOff(t *testing.T) {
	var count atomic.Int32
	tr := New(Options{Timeout: 40 * time.Millisecond, ActivePing: true}, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)
	time.Sleep(120 * time.Millisecond)
	cancel()
	tr.Stop()

	require.GreaterOrEqual(t, count.Load(), int32(1))
	// With backoff the waits are ~20ms then ~40ms (capped), so at most 4
	// pings fit in 120ms; a fixed 20ms interval would send 5 or more.
	require.LessOrEqual(t, count.Load(), int32(4))
}

func TestTracker_Inactive_StopIsNoop(t *testing.T) {
	tr := New(Options{}, nil)
	tr.Start(context.Background())
	tr.Stop() // must not hang
}
