package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSDKMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSDKMetrics(reg)
	require.NotNil(t, m)

	timer := m.QueryDuration("whoami")
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.QueryCompleted("whoami", true)
	m.QueryCompleted("whoami", false)

	timer = m.BatchDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.BatchCompleted(true)
	m.BatchCompleted(false)

	m.ConnectionState("open_ready")
	m.ReconnectAttempt()
	m.HeartbeatMissed()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["clstr_sdk_query_duration_seconds"])
	assert.True(t, names["clstr_sdk_batches_total"])
	assert.True(t, names["clstr_sdk_connection_state"])
	assert.True(t, names["clstr_sdk_reconnects_total"])
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
