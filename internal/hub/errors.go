package hub

import "errors"

// Collector lifecycle errors
var (
	ErrCollectorAlreadyRunning = errors.New("collector is already running")
	ErrCollectorNotRunning     = errors.New("collector is not running")
	ErrNilOutcome              = errors.New("outcome cannot be nil")
)
