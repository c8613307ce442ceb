package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidGroupID  = errors.New("group ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
	ErrInvalidEnvelope = errors.New("invalid event envelope")
	ErrMissingEvent    = errors.New("event name is required")
	ErrMissingType     = errors.New("notification type is required")
)
