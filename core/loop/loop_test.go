package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoop_SerializesCommands(t *testing.T) {
	l := New(Options{})
	defer l.Close()

	var n atomic.Int64
	var order []int64
	ch := make(chan int64, 10)

	for i := int64(0); i < 10; i++ {
		i := i
		require.NoError(t, l.Submit(context.Background(), func() {
			n.Add(1)
			ch <- i
		}))
	}
	close(ch)
	for v := range ch {
		order = append(order, v)
	}

	require.Equal(t, int64(10), n.Load())
	require.Len(t, order, 10)
}

func TestLoop_PanicRecovered(t *testing.T) {
	var recovered atomic.Bool
	l := New(Options{OnPanic: func(r any, stack []byte) { recovered.Store(true) }})
	defer l.Close()

	require.NoError(t, l.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, l.Submit(context.Background(), func() {}))
	require.True(t, recovered.Load())
}

func TestLoop_CloseRejectsSubmit(t *testing.T) {
	l := New(Options{})
	l.Close()
	require.Equal(t, ErrClosed, l.Submit(context.Background(), func() {}))
}

func TestLoop_SubmitRespectsContext(t *testing.T) {
	l := New(Options{MailboxSize: 1})
	defer l.Close()

	block := make(chan struct{})
	require.NoError(t, l.Submit(context.Background(), func() {}))
	require.True(t, l.TrySubmit(func() { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Submit(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}
