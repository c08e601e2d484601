package app

import "errors"

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrStoreDisabled   = errors.New("run history store is disabled: set database.path")
)
