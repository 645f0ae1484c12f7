package persistence

import "errors"

// Common persistence errors
var (
	ErrNotFound = errors.New("not found")
)
