package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrNilReport     = errors.New("report cannot be nil")
	ErrEmptyRunID    = errors.New("report run id cannot be empty")
)
