package interfaces

import "context"

// Authenticator decides whether a connection may act as userID.
// token is whatever credential the client presented; it may be empty.
type Authenticator interface {
	Authenticate(ctx context.Context, userID, token string) error
}
