package stub

import "errors"

// Account and room errors
var (
	ErrUserExists         = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = errors.New("room not found")
	ErrInvalidToken       = errors.New("invalid token")
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrNilConnection    = errors.New("connection cannot be nil")
)

// Server lifecycle errors
var (
	ErrServerRunning    = errors.New("stub server is already running")
	ErrServerNotRunning = errors.New("stub server is not running")
	ErrEmptySecret      = errors.New("jwt secret cannot be empty")
)
