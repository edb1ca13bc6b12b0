package engine

import "errors"

var (
	ErrNotFound     = errors.New("order not found")
	ErrUnknownUser  = errors.New("unknown user")
	ErrInvalidOrder = errors.New("invalid order parameters")
)
