package ipcchild

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/stretchr/testify/require"
)

func TestChannel_ReadsFramedEnvelopesFromIn(t *testing.T) {
	in, writer := io.Pipe()
	var out bytes.Buffer

	ch, err := New(Options{In: in, Out: &out})
	require.NoError(t, err)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	received := make(chan envelope.Envelope, 1)
	ch.SetInbound(func(env envelope.Envelope) { received <- env })

	go func() {
		env, _ := envelope.New(envelope.ActionPing, nil)
		data, _ := json.Marshal(env)
		writer.Write(append(data, '\n'))
	}()

	select {
	case env := <-received:
		require.Equal(t, envelope.ActionPing, env.Action)
	case <-time.After(time.Second):
		t.Fatal("envelope never delivered")
	}
}

func TestChannel_SendWritesFramedLineToOut(t *testing.T) {
	in, _ := io.Pipe()
	var out bytes.Buffer

	ch, err := New(Options{In: in, Out: &out})
	require.NoError(t, err)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	env, _ := envelope.New(envelope.ActionPong, nil)
	require.NoError(t, ch.Send(context.Background(), env))

	require.Contains(t, out.String(), `"action":"pong"`)
	require.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
}

func TestChannel_RequiresInAndOut(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
