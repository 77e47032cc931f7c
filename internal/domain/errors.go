package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrMessageFinalized    = errors.New("message already finalized")
	ErrProviderFailure     = errors.New("provider failure")
)
