package core

import "errors"

var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrAlreadyLoaded      = errors.New("topology already loaded")
	ErrNotLoaded          = errors.New("no topology loaded")
	ErrRequestNotReturned = errors.New("request has not returned")
)
