package websocket

import "errors"

// Session-related errors
var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionStarted    = errors.New("session already started")
	ErrEmptyURL          = errors.New("session URL cannot be empty")
)
