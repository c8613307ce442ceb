package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnauthorized = errors.New("unauthorized access")
	ErrStoreClosed  = errors.New("message store is closed")
)
