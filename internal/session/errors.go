package session

import "errors"

// Call session errors
var (
	ErrNoPendingCall = errors.New("no ringing call for this pair")
	ErrNoActiveCall  = errors.New("no live call for this pair")
	ErrInvalidPair   = errors.New("call participants must be two distinct users")
)
