package database

import "errors"

// ErrWriteTimeout is returned when a queued write does not finish within the
// configured write timeout.
var ErrWriteTimeout = errors.New("write operation timeout")
