package signaling

import "errors"

var (
	ErrUnreachable = errors.New("callee is not online")
	ErrNoSession   = errors.New("no live call between these users")
)
