package broker

import "errors"

// Sentinel errors, classified by callers via errors.Is.
var (
	ErrNotRunning     = errors.New("broker: not running")
	ErrAlreadyRunning = errors.New("broker: already running")
	ErrInvalidArgument = errors.New("broker: invalid argument")
)
