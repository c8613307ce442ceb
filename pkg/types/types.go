package types

import (
	"time"
)

// ChatMessage is a persisted direct or group message.
// FUNCTIONAL DISCOVERY: a ChatMessage is built once from the store's Record and
// never mutated afterwards; exactly one of ReceiverID and GroupID is set.
type ChatMessage struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsGroup reports whether the message belongs to a group conversation log.
func (m *ChatMessage) IsGroup() bool {
	return m.GroupID != ""
}

// Record is what the persistence collaborator hands back after an append.
type Record struct {
	ID        int64
	CreatedAt time.Time
}

// CallState is the lifecycle state of a two-party call.
type CallState string

const (
	CallIdle      CallState = "IDLE"
	CallRinging   CallState = "RINGING"
	CallConnected CallState = "CONNECTED"
	CallEnded     CallState = "ENDED"
)

// CallSession tracks one call between an ordered pair of participants.
type CallSession struct {
	ID        string    `json:"id"`
	CallerID  string    `json:"callerId"`
	CalleeID  string    `json:"calleeId"`
	State     CallState `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Involves reports whether userID is one of the two participants.
func (s *CallSession) Involves(userID string) bool {
	return s.CallerID == userID || s.CalleeID == userID
}

// Peer returns the participant that is not userID.
func (s *CallSession) Peer(userID string) string {
	if s.CallerID == userID {
		return s.CalleeID
	}
	return s.CallerID
}
