package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flick_kiosk/internal/models"
)

type recordingSink struct {
	mu       sync.Mutex
	statuses []models.PaymentStatus
}

func (r *recordingSink) SetStatus(status models.PaymentStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *recordingSink) All() []models.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PaymentStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func wsURLOf(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestChannel(url string, sink StatusSink, onExpired func()) *StatusChannel {
	ch := NewStatusChannel(url, nil, sink, onExpired, zap.NewNop().Sugar())
	ch.baseDelay = 5 * time.Millisecond
	return ch
}

// pushServer upgrades each connection and sends the given frames, then holds
// the connection open until the test finishes.
func pushServer(t *testing.T, wantPath string, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantPath != "" {
			assert.Equal(t, wantPath, r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		<-done
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})
	return srv
}

func TestChannelAppliesPushedTerminalStatus(t *testing.T) {
	srv := pushServer(t, "/ws/payments/7", `{"status":"COMPLETED"}`)

	sink := &recordingSink{}
	ch := newTestChannel(wsURLOf(srv), sink, nil)
	ch.Connect(7)
	defer ch.Close()

	require.Eventually(t, func() bool { return len(sink.All()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.PaymentStatusCompleted, sink.All()[0])
	assert.Equal(t, ChannelConnected, ch.State())
}

func TestChannelDropsMalformedAndNonTerminalFrames(t *testing.T) {
	srv := pushServer(t, "",
		`this is not json`,
		`{"status":"PENDING"}`,
		`{"status":"SOMETHING_NEW"}`,
		`{"status":"FAILED","message":"card declined"}`,
	)

	sink := &recordingSink{}
	ch := newTestChannel(wsURLOf(srv), sink, nil)
	ch.Connect(9)
	defer ch.Close()

	require.Eventually(t, func() bool { return len(sink.All()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusFailed}, sink.All())
}

func TestExpiredPushTriggersCancelGateway(t *testing.T) {
	srv := pushServer(t, "", `{"status":"EXPIRED"}`)

	var cancels int32
	sink := &recordingSink{}
	ch := newTestChannel(wsURLOf(srv), sink, func() { atomic.AddInt32(&cancels, 1) })
	ch.Connect(3)
	defer ch.Close()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&cancels) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusExpired}, sink.All())
}

func TestReconnectCeilingThenFailed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := newTestChannel(wsURLOf(srv), &recordingSink{}, nil)
	ch.Connect(7)
	defer ch.Close()

	require.Eventually(t, func() bool { return ch.State() == ChannelFailed }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits), "initial dial plus exactly 3 reconnects")

	// No 4th automatic attempt once FAILED.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
}

func TestManualReconnectAfterFailed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := newTestChannel(wsURLOf(srv), &recordingSink{}, nil)
	ch.Connect(7)
	defer ch.Close()
	require.Eventually(t, func() bool { return ch.State() == ChannelFailed }, 2*time.Second, 10*time.Millisecond)

	// The shell's tap-to-reconnect re-enters through Connect with the
	// attempt counter reset.
	ch.Connect(7)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 5 }, 2*time.Second, 10*time.Millisecond)
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := newTestChannel(wsURLOf(srv), &recordingSink{}, nil)
	ch.baseDelay = 200 * time.Millisecond
	ch.Connect(7)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)
	ch.Close()

	time.Sleep(400 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "a cancelled reconnect must not resurrect the connection")
	assert.Equal(t, ChannelDisconnected, ch.State())
}

func TestChannelReconnectsAfterAbnormalClose(t *testing.T) {
	var hits int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection without a close handshake.
		conn.Close()
	}))
	defer srv.Close()

	ch := newTestChannel(wsURLOf(srv), &recordingSink{}, nil)
	ch.Connect(7)
	defer ch.Close()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 2 }, 2*time.Second, 10*time.Millisecond)
}
