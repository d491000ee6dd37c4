package correlator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	ready   bool
	sent    []envelope.Envelope
	onSend  func(env envelope.Envelope)
}

func (f *fakeSender) IsReady() bool { return f.ready }

func (f *fakeSender) Send(ctx context.Context, env envelope.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(env)
	}
	return nil
}

func (f *fakeSender) last() envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func TestCorrelator_InlineResultBypassesWait(t *testing.T) {
	c := New(&fakeSender{ready: false}, Options{})
	data, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "ping"},
		&envelope.QueryResponsePayload{OK: true, Data: []byte(`{"x":1}`)})
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(data))
}

func TestCorrelator_NotReadyFailsFast(t *testing.T) {
	c := New(&fakeSender{ready: false}, Options{})
	_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "ping"}, nil)
	require.ErrorIs(t, err, sdkerr.ErrNotConnected)
}

func TestCorrelator_MessageTooLargeFailsBeforeSend(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{MaxMessageBytes: 32})
	_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: strings.Repeat("x", 64)}, nil)
	require.ErrorIs(t, err, sdkerr.ErrMessageTooLarge)
	require.Empty(t, sender.sent)
}

func TestCorrelator_ResolvesOnResponse(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{Timeout: time.Second})

	go func() {
		for {
			sender.mu.Lock()
			n := len(sender.sent)
			sender.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		env := sender.last()
		c.OnResponse(envelope.Envelope{RequestID: env.RequestID},
			envelope.QueryResponsePayload{OK: true, Data: []byte(`{"ok":true}`)})
	}()

	data, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "whoami"}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(data))
}

func TestCorrelator_FailedResponseWrapsErr(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{Timeout: time.Second})

	go func() {
		for {
			sender.mu.Lock()
			n := len(sender.sent)
			sender.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		env := sender.last()
		c.OnResponse(envelope.Envelope{RequestID: env.RequestID}, envelope.QueryResponsePayload{OK: false, Err: "nope"})
	}()

	_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "whoami"}, nil)
	require.Error(t, err)
	var qfe *sdkerr.QueryFailedError
	require.ErrorAs(t, err, &qfe)
	require.Equal(t, "nope", qfe.Msg)
}

func TestCorrelator_TimeoutDiscardsLateReply(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{Timeout: 20 * time.Millisecond})

	_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "slow"}, nil)
	require.ErrorIs(t, err, sdkerr.ErrQueryTimeout)

	env := sender.last()
	// Late reply after eviction must not panic and must be a no-op.
	c.OnResponse(envelope.Envelope{RequestID: env.RequestID}, envelope.QueryResponsePayload{OK: true})
}

func TestCorrelator_SingleFlightRejectsSecondCall(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{SingleFlight: true, Timeout: 200 * time.Millisecond})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sender.onSend = func(env envelope.Envelope) { close(started) }
		_, _ = c.Query(context.Background(), envelope.QueryRequestPayload{Name: "a"}, nil)
	}()

	<-started
	_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "b"}, nil)
	require.ErrorIs(t, err, sdkerr.ErrQueryInFlight)
	<-done
}

func TestCorrelator_RejectClearsAllPending(t *testing.T) {
	sender := &fakeSender{ready: true}
	c := New(sender, Options{Timeout: time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), envelope.QueryRequestPayload{Name: "x"}, nil)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Reject(sdkerr.ErrDisconnected)

	err := <-errCh
	require.ErrorIs(t, err, sdkerr.ErrDisconnected)
}
