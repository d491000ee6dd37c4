package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/stretchr/testify/require"
)

func postEnvelope(t *testing.T, url string, env envelope.Envelope) *http.Response {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
