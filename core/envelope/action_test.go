package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	require.Equal(t, ActionOutboxStreamBatch, Canonicalize("outboxStreamBatch"))
	require.Equal(t, ActionOutboxStreamAck, Canonicalize("outboxStreamAck"))
	require.Equal(t, ActionOutboxStreamBatch, Canonicalize(ActionOutboxStreamBatch))
	require.Equal(t, ActionPing, Canonicalize(ActionPing))
}

func TestStyleOf_MirrorStyle(t *testing.T) {
	require.Equal(t, StyleCamel, StyleOf("outboxStreamBatch"))
	require.Equal(t, StyleDotted, StyleOf(ActionOutboxStreamBatch))

	require.Equal(t, Action("outboxStreamAck"), MirrorStyle(ActionOutboxStreamAck, StyleCamel))
	require.Equal(t, ActionOutboxStreamAck, MirrorStyle(ActionOutboxStreamAck, StyleDotted))

	// Actions without a synonym have no camel mirror.
	require.Equal(t, ActionPing, MirrorStyle(ActionPing, StyleCamel))
}

func TestRecognized(t *testing.T) {
	require.True(t, Recognized(ActionPing))
	require.True(t, Recognized("outboxStreamBatch"))
	require.False(t, Recognized("some.unknown.action"))
}
