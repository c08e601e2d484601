package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatload/pkg/types"
)

// Test WebSocket upgrader for creating test servers
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoServer greets each client, echoes every text frame and never closes on its own
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("welcome"))
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateConnecting, StateOpen},
		{StateConnecting, StateClosed},
		{StateConnecting, StateClosing},
		{StateOpen, StateMessaging},
		{StateOpen, StateClosing},
		{StateMessaging, StateMessaging},
		{StateMessaging, StateClosing},
		{StateClosing, StateClosed},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	forbidden := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateClosed, StateClosing},
		{StateOpen, StateConnecting},
		{StateOpen, StateClosed},
		{StateClosing, StateOpen},
		{StateMessaging, StateOpen},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestSession_TimeoutPathNotEarlier(t *testing.T) {
	server := echoServer(t)
	timeout := 300 * time.Millisecond

	session := NewSession(wsURL(server), Options{Message: "Hello from User 1", Timeout: timeout})
	result := session.Run(context.Background())

	assert.True(t, result.Connected())
	assert.Equal(t, http.StatusSwitchingProtocols, result.HandshakeStatus)
	assert.Equal(t, ReasonTimeout, result.Reason)
	assert.ErrorIs(t, result.Err, types.ErrTimeout)
	assert.GreaterOrEqual(t, result.Duration(), timeout, "timeout path must not close early")
	assert.Less(t, result.Duration(), timeout+2*time.Second)

	assert.Equal(t, []State{StateConnecting, StateOpen, StateMessaging, StateClosing, StateClosed}, result.Trace)
	assert.Equal(t, StateClosed, session.State())
	assert.Contains(t, result.Messages, "welcome")
	assert.Contains(t, result.Messages, "Hello from User 1")
}

func TestSession_ServerInitiatedClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, _, _ = conn.ReadMessage()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	session := NewSession(wsURL(server), Options{Message: "hi", Timeout: 5 * time.Second})
	result := session.Run(context.Background())

	assert.True(t, result.Connected())
	assert.Equal(t, ReasonServer, result.Reason)
	assert.NoError(t, result.Err)
	assert.Less(t, result.Duration(), 5*time.Second)
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosing, StateClosed}, result.Trace)
}

func TestSession_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Missing or invalid token"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	result := NewSession(wsURL(server), Options{Timeout: time.Second}).Run(context.Background())

	assert.False(t, result.Connected())
	assert.Equal(t, http.StatusUnauthorized, result.HandshakeStatus)
	assert.Equal(t, ReasonHandshake, result.Reason)
	assert.ErrorIs(t, result.Err, types.ErrHandshakeFailed)
	assert.Equal(t, []State{StateConnecting, StateClosed}, result.Trace)
}

func TestSession_SendsHeaderAndInvokesHook(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"content":"A New User Joined The Room"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")

	var hooked atomic.Int32
	result := NewSession(wsURL(server), Options{
		Header:    header,
		Timeout:   200 * time.Millisecond,
		OnMessage: func(data []byte) { hooked.Add(1) },
	}).Run(context.Background())

	assert.Equal(t, "Bearer tok", gotAuth.Load())
	assert.True(t, result.Connected())
	assert.Equal(t, int32(1), hooked.Load())
	require.Len(t, result.Messages, 1)
}

func TestSession_ParentCancel(t *testing.T) {
	server := echoServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	result := NewSession(wsURL(server), Options{Timeout: 5 * time.Second}).Run(ctx)

	assert.True(t, result.Connected())
	assert.Equal(t, ReasonCanceled, result.Reason)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Less(t, result.Duration(), 5*time.Second)
}

func TestSession_RunOnlyOnce(t *testing.T) {
	server := echoServer(t)
	session := NewSession(wsURL(server), Options{Timeout: 50 * time.Millisecond})

	first := session.Run(context.Background())
	assert.True(t, first.Connected())

	second := session.Run(context.Background())
	assert.ErrorIs(t, second.Err, ErrSessionStarted)
}

func TestSession_EmptyURL(t *testing.T) {
	result := NewSession("", Options{}).Run(context.Background())
	assert.ErrorIs(t, result.Err, ErrEmptyURL)
	assert.Equal(t, []State{StateConnecting, StateClosed}, result.Trace)
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession("ws://example.test", Options{HandshakeTimeout: time.Minute})
	assert.Equal(t, DefaultSessionTimeout, s.opts.Timeout)
	assert.Equal(t, DefaultSessionTimeout, s.opts.HandshakeTimeout, "handshake never outlives the session")
	assert.Equal(t, StateConnecting, s.State())
}
