// Package httptransport implements the request/response HTTP backend (§4.2,
// §6): a webhook path receiving batches and a ping path, plus an outbound
// Send that POSTs queries to a configured base URL's /query path for the
// Client-initiated direction. Grounded on the mux-wiring style of the
// teacher's HTTP API cmd entrypoint, generalized to the Channel interface.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codewandler/clstr-go/core/channel"
	"github.com/codewandler/clstr-go/core/envelope"
	"github.com/codewandler/clstr-go/core/sdkerr"
)

// Options configures a Channel.
type Options struct {
	// WebhookPath serves POSTs carrying outbox.stream.batch envelopes.
	WebhookPath string
	// PingPath serves POSTs that reply with a pong envelope.
	PingPath string
	// QueryBaseURL, when set, lets this Channel act as the client side of a
	// query: Send(query.request) POSTs to QueryBaseURL + "/query" and the
	// decoded response is delivered inline (§4.5).
	QueryBaseURL string
	// Token, when non-empty, is required as X-Transport-Token on inbound
	// webhook/ping requests and is sent on outbound requests.
	Token  string
	Client *http.Client
	Logger *slog.Logger
}

// Channel implements channel.Channel over stateless HTTP. IsReady is always
// true (§4.3); there is no persistent connection to track.
type Channel struct {
	webhookPath string
	pingPath    string
	queryURL    string
	token       string
	httpClient  *http.Client
	log         *slog.Logger

	inbound channel.InboundHandler

	mu sync.Mutex

	// pendingAck receives the ack/pong envelope the Client hands back via
	// Send while ServeWebhook's call into the inbound handler is still on
	// the stack (§4.5: HTTP returns the ack synchronously as the response
	// body instead of over a separate send path).
	pendingAck chan envelope.Envelope
}

// New creates a Channel from opts.
func New(opts Options) (*Channel, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		webhookPath: opts.WebhookPath,
		pingPath:    opts.PingPath,
		queryURL:    opts.QueryBaseURL,
		token:       opts.Token,
		httpClient:  client,
		log:         log,
	}, nil
}

func (c *Channel) SetInbound(h channel.InboundHandler) { c.inbound = h }

func (c *Channel) Capabilities() channel.Capabilities {
	return channel.Capabilities{
		SupportsQueries:          true,
		SupportsStreamAck:        true,
		SingleFlightQueries:      false,
		CorrelateByCorrelationID: false,
		RequiresHandshake:        false,
	}
}

// Open is a no-op: HTTP carries no persistent connection (§4.2).
func (c *Channel) Open(ctx context.Context) error { return nil }

// Close is a no-op for the same reason.
func (c *Channel) Close() error { return nil }

// IsReady is always true for HTTP (§4.3).
func (c *Channel) IsReady() bool { return true }

func (c *Channel) AwaitReady(ctx context.Context) bool { return true }

// Send POSTs {name, dto} to QueryBaseURL + "/query" when env is a
// query.request (§6), decodes the {ok, data, err} response body, and
// delivers it to the installed inbound handler as a synthetic
// query.response envelope stamped with the outgoing RequestID before
// returning. Stamping RequestID lets the correlator's key-based pending-map
// lookup (§4.5) resolve the response even though HTTP's correlation is
// implicit (one exchange, no echoed ID on the wire); the blocking
// Client.onInbound -> loop.Submit round trip then resolves the waiting
// correlator entry synchronously within this call. For an ack or pong
// produced while ServeWebhook is waiting on the inbound handler,
// it hands the envelope back to that waiter instead of making an outbound
// HTTP call, since HTTP's reply direction is the webhook response body, not
// a separate request (§4.5, §6).
func (c *Channel) Send(ctx context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	waiter := c.pendingAck
	c.mu.Unlock()
	if waiter != nil && env.Action != envelope.ActionQueryRequest {
		select {
		case waiter <- env:
		default:
		}
		return nil
	}

	if env.Action != envelope.ActionQueryRequest {
		return sdkerr.ErrNotConnected
	}
	if c.queryURL == "" {
		return sdkerr.NewTransportInitError("http", "QueryBaseURL not configured")
	}

	var reqPayload envelope.QueryRequestPayload
	if err := env.DecodePayload(&reqPayload); err != nil {
		return fmt.Errorf("http: decode query request: %w", err)
	}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("http: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL+"/query", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Transport-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sdkerr.ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("http: read response: %w", err)
	}

	var respPayload envelope.QueryResponsePayload
	if err := json.Unmarshal(data, &respPayload); err != nil {
		return sdkerr.ErrInvalidResponse
	}

	respEnv, err := envelope.New(envelope.ActionQueryResponse, respPayload)
	if err != nil {
		return fmt.Errorf("http: build response envelope: %w", err)
	}
	respEnv.RequestID = env.RequestID

	if c.inbound != nil {
		c.inbound(respEnv)
	}
	return nil
}

// ServeWebhook is the http.HandlerFunc for §6's webhook path: decodes an
// outbox.stream.batch envelope, hands it to the installed inbound handler,
// and writes whatever ack envelope Send receives back for this request as
// the HTTP response body.
func (c *Channel) ServeWebhook(maxMessageBytes int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.checkToken(w, r) {
			return
		}

		limit := maxMessageBytes - channel.SizeGuardOverheadBytes
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
		if err != nil {
			http.Error(w, "read error", http.StatusInternalServerError)
			return
		}
		if len(body) > limit {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}

		var env envelope.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		if envelope.Canonicalize(env.Action) != envelope.ActionOutboxStreamBatch {
			http.Error(w, "unexpected action", http.StatusUnprocessableEntity)
			return
		}

		ackCh := make(chan envelope.Envelope, 1)
		c.mu.Lock()
		c.pendingAck = ackCh
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			if c.pendingAck == ackCh {
				c.pendingAck = nil
			}
			c.mu.Unlock()
		}()

		if c.inbound != nil {
			c.inbound(env)
		}

		select {
		case ack := <-ackCh:
			writeEnvelope(w, ack)
		case <-r.Context().Done():
		}
	}
}

func (c *Channel) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if c.token == "" {
		return true
	}
	if r.Header.Get("X-Transport-Token") != c.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// ServePing is the http.HandlerFunc for §6's ping path: always replies pong.
func (c *Channel) ServePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.checkToken(w, r) {
			return
		}
		pong, err := envelope.New(envelope.ActionPong, envelope.PingPayload{Password: c.token})
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeEnvelope(w, pong)
	}
}

func writeEnvelope(w http.ResponseWriter, env envelope.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

// Mux builds the http.Handler serving this Channel's webhook and ping paths
// (§6). The facade owns running an http.Server around it; this Channel only
// owns the handlers.
func (c *Channel) Mux(maxMessageBytes int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(c.webhookPath, c.ServeWebhook(maxMessageBytes))
	mux.HandleFunc(c.pingPath, c.ServePing())
	return mux
}

var _ channel.Channel = (*Channel)(nil)
