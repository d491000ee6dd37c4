package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
	"github.com/stretchr/testify/require"
)

func batchOf(eventTypes ...string) envelope.BatchPayload {
	events := make([]envelope.WireEvent, len(eventTypes))
	for i, et := range eventTypes {
		events[i] = envelope.WireEvent{EventType: et}
	}
	return envelope.BatchPayload{Events: events}
}

func TestDispatcher_HappyPath(t *testing.T) {
	reg := NewRegistry(false)

	var mu sync.Mutex
	var seen []string
	require.NoError(t, reg.Subscribe("order.created", func(ev WireEventView) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.EventType)
		return nil
	}))

	d := New(reg, Options{})
	res := d.Dispatch(context.Background(), batchOf("order.created", "order.created"))

	require.True(t, res.OK)
	require.Equal(t, []int{0, 1}, res.OKIndices)
	require.Equal(t, []string{"order.created", "order.created"}, seen)
}

func TestDispatcher_CrossTypeParallelPerTypeOrder(t *testing.T) {
	reg := NewRegistry(false)

	var mu sync.Mutex
	var orderSeq []int
	var userSeq []int

	require.NoError(t, reg.Subscribe("order.created", func(ev WireEventView) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		orderSeq = append(orderSeq, ev.Index)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, reg.Subscribe("user.created", func(ev WireEventView) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		userSeq = append(userSeq, ev.Index)
		mu.Unlock()
		return nil
	}))

	d := New(reg, Options{ProcessTimeout: 300 * time.Millisecond})

	start := time.Now()
	res := d.Dispatch(context.Background(), batchOf(
		"order.created", "user.created", "order.created", "user.created",
	))
	elapsed := time.Since(start)

	require.True(t, res.OK)
	require.Equal(t, []int{0, 2}, orderSeq)
	require.Equal(t, []int{1, 3}, userSeq)
	// Two groups of two sequential 20ms steps run concurrently: ~40ms, not ~80ms.
	require.Less(t, elapsed, 80*time.Millisecond)
}

func TestDispatcher_HandlerFailureSuppressesAck(t *testing.T) {
	reg := NewRegistry(false)
	require.NoError(t, reg.Subscribe("order.created", func(ev WireEventView) error {
		return errors.New("boom")
	}))

	d := New(reg, Options{})
	res := d.Dispatch(context.Background(), batchOf("order.created"))

	require.False(t, res.OK)
	require.Nil(t, res.OKIndices)
	require.Error(t, res.Err)
}

func TestDispatcher_DeadlineExceededSuppressesAck(t *testing.T) {
	reg := NewRegistry(false)
	require.NoError(t, reg.Subscribe("order.created", func(ev WireEventView) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}))

	d := New(reg, Options{ProcessTimeout: 30 * time.Millisecond})
	res := d.Dispatch(context.Background(), batchOf("order.created"))

	require.False(t, res.OK)
	require.True(t, sdkerr.IsBatchProcessingTimeout(res.Err))
}

func TestDispatcher_NoSubscriberStillAcks(t *testing.T) {
	reg := NewRegistry(false)
	d := New(reg, Options{})

	res := d.Dispatch(context.Background(), batchOf("unknown.type", "unknown.type"))

	require.True(t, res.OK)
	require.Equal(t, []int{0, 1}, res.OKIndices)
}

func TestDispatcher_EmptyBatchAcks(t *testing.T) {
	reg := NewRegistry(false)
	d := New(reg, Options{})

	res := d.Dispatch(context.Background(), envelope.BatchPayload{})

	require.True(t, res.OK)
	require.Empty(t, res.OKIndices)
}
