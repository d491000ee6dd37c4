package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelope_Validate(t *testing.T) {
	require.Error(t, Envelope{}.Validate())
	require.NoError(t, Envelope{Action: ActionPing}.Validate())
}

func TestEnvelope_New_DecodePayload(t *testing.T) {
	type dto struct {
		N int `json:"n"`
	}

	env, err := New(ActionQueryRequest, dto{N: 42})
	require.NoError(t, err)

	var out dto
	require.NoError(t, env.DecodePayload(&out))
	require.Equal(t, 42, out.N)
}

func TestEnvelope_CorrelationKey(t *testing.T) {
	env := Envelope{RequestID: "req-1", CorrelationID: "corr-1"}

	key, ok := env.CorrelationKey(false)
	require.True(t, ok)
	require.Equal(t, "req-1", key)

	key, ok = env.CorrelationKey(true)
	require.True(t, ok)
	require.Equal(t, "corr-1", key)

	empty := Envelope{}
	_, ok = empty.CorrelationKey(false)
	require.False(t, ok)
}

func TestSize(t *testing.T) {
	env := Envelope{Action: ActionPing}
	n, err := Size(env)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}
