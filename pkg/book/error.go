package book

import "errors"

var (
	ErrEmptySide   = errors.New("side has no resting orders")
	ErrInvalidSide = errors.New("invalid order side")
	ErrNotFound    = errors.New("order not found")
)
