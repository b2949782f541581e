package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flick_kiosk/internal/models"
)

type ChannelState string

const (
	ChannelDisconnected ChannelState = "DISCONNECTED"
	ChannelConnecting   ChannelState = "CONNECTING"
	ChannelConnected    ChannelState = "CONNECTED"
	ChannelFailed       ChannelState = "FAILED"
)

const (
	maxReconnectAttempts = 3
	maxReconnectDelay    = 10 * time.Second
)

// StatusSink receives payment statuses pushed by the backend.
type StatusSink interface {
	SetStatus(status models.PaymentStatus)
}

// StatusChannel maintains the live status feed for the active payment
// request: one websocket per request id, pushed statuses translated into
// sink transitions, and automatic reconnection with bounded backoff across
// transient drops. Completion is detected primarily by push; the countdown
// remains the backstop when the socket dies without an abnormal-close signal.
//
// The channel exclusively owns its socket and its reconnect timer. A
// generation counter distinguishes client-initiated teardown from abnormal
// closes: every teardown bumps the generation, and goroutines bound to an
// older generation discard whatever they observe.
type StatusChannel struct {
	wsURL     string
	tokens    TokenSource
	sink      StatusSink
	onExpired func()
	logger    *zap.SugaredLogger
	dialer    *websocket.Dialer
	baseDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ChannelState
	attempts  int
	requestID int64
	reconnect *time.Timer
	gen       int
}

// NewStatusChannel wires the channel. onExpired fires when the backend pushes
// EXPIRED, so the caller can align the local order with the server-side
// cancellation.
func NewStatusChannel(wsURL string, tokens TokenSource, sink StatusSink, onExpired func(), logger *zap.SugaredLogger) *StatusChannel {
	return &StatusChannel{
		wsURL:     wsURL,
		tokens:    tokens,
		sink:      sink,
		onExpired: onExpired,
		logger:    logger,
		dialer:    websocket.DefaultDialer,
		baseDelay: 2 * time.Second,
		state:     ChannelDisconnected,
	}
}

// State returns the current connection state.
func (c *StatusChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the feed for the given request id. Any prior connection is
// closed first; exactly one connection is live per request id. Calling
// Connect for a request that is already connecting or connected is a no-op,
// which also makes it the manual retry entry point after FAILED.
func (c *StatusChannel) Connect(requestID int64) {
	c.mu.Lock()
	if c.requestID == requestID && (c.state == ChannelConnecting || c.state == ChannelConnected) {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.requestID = requestID
	c.attempts = 0
	c.state = ChannelConnecting
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen, requestID)
}

// Close tears the channel down cleanly: the pending reconnect is cancelled so
// it cannot resurrect a connection for an abandoned request, and the socket
// close is not treated as abnormal.
func (c *StatusChannel) Close() {
	c.mu.Lock()
	c.teardownLocked()
	c.state = ChannelDisconnected
	c.requestID = 0
	c.attempts = 0
	c.mu.Unlock()
}

func (c *StatusChannel) teardownLocked() {
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *StatusChannel) dial(gen int, requestID int64) {
	header := http.Header{}
	if c.tokens != nil {
		if token, err := c.tokens.Token(context.Background()); err == nil {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	url := fmt.Sprintf("%s/ws/payments/%d", c.wsURL, requestID)
	conn, resp, err := c.dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warnw("status channel dial failed", "request_id", requestID, "err", err)
		c.state = ChannelDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.state = ChannelConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Infow("status channel connected", "request_id", requestID)
	go c.readLoop(gen, conn)
}

func (c *StatusChannel) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				// Clean close initiated by ourselves.
				c.mu.Unlock()
				return
			}
			c.logger.Warnw("status channel closed abnormally", "request_id", c.requestID, "err", err)
			c.conn = nil
			c.state = ChannelDisconnected
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			return
		}
		c.handleFrame(data)
	}
}

// scheduleReconnectLocked arms a single reconnect with a non-decreasing delay
// capped at maxReconnectDelay. Exhausting the attempt ceiling settles the
// channel in FAILED, which the shell surfaces as tap-to-reconnect.
func (c *StatusChannel) scheduleReconnectLocked() {
	if c.attempts >= maxReconnectAttempts {
		c.state = ChannelFailed
		c.logger.Warnw("status channel gave up reconnecting",
			"request_id", c.requestID, "attempts", c.attempts)
		return
	}

	delay := c.baseDelay * time.Duration(c.attempts+1)
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	c.attempts++

	gen := c.gen
	requestID := c.requestID
	c.logger.Infow("status channel reconnect scheduled",
		"request_id", requestID, "attempt", c.attempts, "delay", delay)
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.state = ChannelConnecting
		c.mu.Unlock()
		c.dial(gen, requestID)
	})
}

type statusFrame struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (c *StatusChannel) handleFrame(data []byte) {
	var frame statusFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Debugw("dropping unparseable status frame", "err", err)
		return
	}

	switch status := models.PaymentStatus(frame.Status); status {
	case models.PaymentStatusCompleted, models.PaymentStatusFailed:
		c.sink.SetStatus(status)
	case models.PaymentStatusExpired:
		// The server already expired the request; align the local view and
		// let the gateway reconcile the order.
		c.sink.SetStatus(status)
		if c.onExpired != nil {
			c.onExpired()
		}
	default:
		// PENDING and unrecognized values carry no transition.
	}
}
