package interfaces

// Broadcaster delivers an event to every connection joined to a channel
// and reports how many connections it was handed to.
type Broadcaster interface {
	Broadcast(channel, event string, data interface{}) int
}

// PresenceLookup is the read side of the presence registry.
type PresenceLookup interface {
	IsOnline(userID string) bool
}
