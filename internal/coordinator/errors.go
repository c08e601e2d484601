package coordinator

import "errors"

var (
	ErrInvalidVirtualUsers = errors.New("virtual users must be at least 1")
	ErrInvalidDuration     = errors.New("duration must be positive")
	ErrInvalidIterations   = errors.New("iterations cannot be negative")
	ErrNilScenario         = errors.New("scenario factory returned nil")
	ErrRunCanceled         = errors.New("load run canceled")
)
