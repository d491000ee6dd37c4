package nats

import (
	"context"
	"testing"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresConnect(t *testing.T) {
	_, err := New(Options{InboundSubject: "a", OutboundSubject: "b"})
	require.Error(t, err)
}

func TestNew_RequiresSubjects(t *testing.T) {
	_, err := New(Options{Connect: ConnectURL("nats://127.0.0.1:4222")})
	require.Error(t, err)
}

func TestChannel_SendBeforeOpenFailsNotConnected(t *testing.T) {
	ch, err := New(Options{
		Connect:         ConnectURL("nats://127.0.0.1:4222"),
		InboundSubject:  "client.in",
		OutboundSubject: "client.out",
	})
	require.NoError(t, err)

	env, _ := envelope.New(envelope.ActionPing, nil)
	err = ch.Send(context.Background(), env)
	require.ErrorIs(t, err, sdkerr.ErrNotConnected)
}
