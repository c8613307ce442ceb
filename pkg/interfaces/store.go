package interfaces

import (
	"context"

	"buddyhub/pkg/types"
)

// MessageStore is the persistence collaborator for chat messages
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// keeps the real-time core free of SQL and lets tests swap in memory stores
type MessageStore interface {
	// AppendDirectMessage persists a direct message and returns its generated id and timestamp
	// FUNCTIONAL DISCOVERY: must complete before any peer observes the message
	AppendDirectMessage(ctx context.Context, senderID, receiverID, content string) (types.Record, error)

	// AppendGroupMessage persists a message into a group's conversation log
	AppendGroupMessage(ctx context.Context, groupID, userID, content string) (types.Record, error)

	// DirectHistory returns the conversation between two users in both directions, oldest first
	DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error)

	// GroupHistory returns a group's conversation log, oldest first
	GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error)

	// HealthCheck verifies store connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the underlying resources
	Close() error
}
