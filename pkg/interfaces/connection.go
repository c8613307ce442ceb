package interfaces

// Connection represents one live client transport session
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// ID returns the opaque connection handle, unique per physical connection
	ID() string

	// WriteJSON queues a JSON frame for the client (thread-safe, non-blocking)
	// FUNCTIONAL DISCOVERY: implementations use a single writer goroutine so
	// frames from concurrent broadcasters never interleave on the wire
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the identity bound at authenticate time ("" before)
	GetUserID() string

	// IsAuthenticated returns true once an identity is bound
	IsAuthenticated() bool

	// SetCredentials binds the authenticated identity to this connection
	SetCredentials(userID string) error
}
