package delivery

import "errors"

var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrPersistFailed = errors.New("message could not be stored")
)
