package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	"chatload/pkg/types"
)

// DefaultSessionTimeout bounds a room session when Options.Timeout is unset
const DefaultSessionTimeout = 5 * time.Second

// Options configures one room session
type Options struct {
	Header           http.Header
	Message          string        // sent once the connection is open
	Timeout          time.Duration // session bound measured from dial start
	HandshakeTimeout time.Duration // dial bound, never longer than Timeout
	WriteTimeout     time.Duration
	OnMessage        func(data []byte)
	Dialer           *websocket.Dialer
	Logger           logrus.FieldLogger
}

// Result is what a finished session observed
type Result struct {
	URL             string
	HandshakeStatus int
	Messages        []string
	Trace           []State
	Reason          CloseReason
	Err             error
	StartedAt       time.Time
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// Connected reports whether the handshake switched protocols
func (r *Result) Connected() bool {
	return r.HandshakeStatus == http.StatusSwitchingProtocols
}

// Duration returns the time from dial start to Closed
func (r *Result) Duration() time.Duration {
	return r.ClosedAt.Sub(r.StartedAt)
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventClosed
)

// event is what the reader goroutine reports to the state machine
type event struct {
	kind eventKind
	data []byte
	err  error
}

// Session drives one WebSocket connection through its lifecycle
// ARCHITECTURAL DISCOVERY: Only the Run goroutine mutates state; the reader goroutine
// communicates through the events channel, so transitions never race
type Session struct {
	url    string
	opts   Options
	logger logrus.FieldLogger

	mu      sync.RWMutex
	state   State
	trace   []State
	started bool
}

// NewSession creates a session for url in the Connecting state
func NewSession(url string, opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSessionTimeout
	}
	if opts.HandshakeTimeout <= 0 || opts.HandshakeTimeout > opts.Timeout {
		opts.HandshakeTimeout = opts.Timeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Session{
		url:    url,
		opts:   opts,
		logger: logger.WithField("url", url),
		state:  StateConnecting,
		trace:  []State{StateConnecting},
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Trace returns the states visited so far, self-transitions collapsed
func (s *Session) Trace() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, len(s.trace))
	copy(out, s.trace)
	return out
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	if s.state != to {
		s.trace = append(s.trace, to)
	}
	s.state = to
	return nil
}

func (s *Session) mustTransition(to State) {
	if err := s.transition(to); err != nil {
		s.logger.WithError(err).Error("session state machine rejected transition")
	}
}

// Run dials, sends the configured message, records everything received and returns
// once the session is Closed. The session ends when the server closes, the read
// fails, the parent context is cancelled, or Timeout elapses - whichever is first.
func (s *Session) Run(ctx context.Context) *Result {
	result := &Result{URL: s.url, StartedAt: time.Now()}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		result.Err = ErrSessionStarted
		result.ClosedAt = time.Now()
		return result
	}
	s.started = true
	s.mu.Unlock()

	if s.url == "" {
		s.mustTransition(StateClosed)
		result.Err = ErrEmptyURL
		result.Reason = ReasonError
		result.ClosedAt = time.Now()
		result.Trace = s.Trace()
		return result
	}

	// FUNCTIONAL DISCOVERY: One deadline covers handshake and session, so the
	// socket is gone by T+Timeout no matter where it is in its lifecycle
	sessionCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	conn := s.dial(ctx, sessionCtx, result)
	if conn == nil {
		result.ClosedAt = time.Now()
		result.Trace = s.Trace()
		return result
	}

	s.mustTransition(StateOpen)
	result.OpenedAt = time.Now()
	s.logger.Info("joined room")

	if s.opts.Message != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.opts.Message)); err != nil {
			s.logger.WithError(err).Warn("failed to send room message")
		}
	}

	events := make(chan event, 16)
	done := make(chan struct{})
	readerDone := make(chan struct{})
	go s.readLoop(conn, events, done, readerDone)

	s.loop(ctx, sessionCtx, conn, events, result)

	close(done)
	_ = conn.Close()
	<-readerDone

	s.mustTransition(StateClosed)
	result.ClosedAt = time.Now()
	result.Trace = s.Trace()

	s.logger.WithFields(logrus.Fields{
		"reason":   result.Reason,
		"messages": len(result.Messages),
		"duration": result.Duration(),
	}).Info("disconnected from room")

	return result
}

func (s *Session) dial(ctx, sessionCtx context.Context, result *Result) *websocket.Conn {
	dialCtx, cancelDial := context.WithTimeout(sessionCtx, s.opts.HandshakeTimeout)
	defer cancelDial()

	conn, resp, err := s.opts.Dialer.DialContext(dialCtx, s.url, s.opts.Header)
	if resp != nil {
		result.HandshakeStatus = resp.StatusCode
	}
	if err == nil {
		return conn
	}

	var body []byte
	if resp != nil && resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
	}

	switch {
	case ctx.Err() != nil:
		s.mustTransition(StateClosing)
		result.Reason = ReasonCanceled
	case sessionCtx.Err() != nil:
		s.mustTransition(StateClosing)
		result.Reason = ReasonTimeout
	default:
		result.Reason = ReasonHandshake
	}
	s.mustTransition(StateClosed)

	result.Err = fmt.Errorf("%w: status %d: %v", types.ErrHandshakeFailed, result.HandshakeStatus, err)
	s.logger.WithFields(logrus.Fields{
		"status": result.HandshakeStatus,
		"body":   string(body),
	}).WithError(err).Warn("websocket handshake failed")

	return nil
}

// loop consumes reader events until one of the close paths fires, leaving the session in Closing
func (s *Session) loop(ctx, sessionCtx context.Context, conn *websocket.Conn, events <-chan event, result *Result) {
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case eventMessage:
				s.mustTransition(StateMessaging)
				result.Messages = append(result.Messages, string(ev.data))
				s.logger.WithField("payload", logging.Truncate(string(ev.data), 512)).Debug("received")
				if s.opts.OnMessage != nil {
					s.opts.OnMessage(ev.data)
				}

			case eventClosed:
				s.mustTransition(StateClosing)
				var closeErr *websocket.CloseError
				if errors.As(ev.err, &closeErr) {
					result.Reason = ReasonServer
				} else {
					result.Reason = ReasonError
					result.Err = ev.err
				}
				return
			}

		case <-sessionCtx.Done():
			s.mustTransition(StateClosing)
			if ctx.Err() != nil {
				result.Reason = ReasonCanceled
				result.Err = ctx.Err()
			} else {
				result.Reason = ReasonTimeout
				result.Err = types.ErrTimeout
			}

			// TECHNICAL DISCOVERY: Close frame is best effort - the socket is closed right after regardless
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session timeout")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			return
		}
	}
}

// readLoop is the single reader of the connection
func (s *Session) readLoop(conn *websocket.Conn, events chan<- event, done <-chan struct{}, readerDone chan<- struct{}) {
	defer close(readerDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case events <- event{kind: eventClosed, err: err}:
			case <-done:
			}
			return
		}

		select {
		case events <- event{kind: eventMessage, data: data}:
		case <-done:
			return
		}
	}
}
