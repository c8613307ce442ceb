package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EventAuthenticate     = "authenticate"
	EventSendMessage      = "send_message"
	EventSendGroupMessage = "send_group_message"
	EventJoinGroup        = "join_group"
	EventLeaveGroup       = "leave_group"
	EventTyping           = "typing"
	EventCallUser         = "call_user"
	EventAnswerCall       = "answer_call"
	EventICECandidate     = "ice_candidate"
	EventRejectCall       = "reject_call"
	EventEndCall          = "end_call"
)

// Outbound event names. call_user and ice_candidate are reused in both directions.
const (
	EventAuthenticated   = "authenticated"
	EventNewMessage      = "new_message"
	EventMessageSent     = "message_sent"
	EventNewGroupMessage = "new_group_message"
	EventMessageError    = "message_error"
	EventUserTyping      = "user_typing"
	EventCallAccepted    = "call_accepted"
	EventCallRejected    = "call_rejected"
	EventCallEnded       = "call_ended"
	EventCallFailed      = "call_failed"
	EventCallError       = "call_error"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventNotification    = "notification"
	EventError           = "error"
)

// Reasons carried in error-shaped payloads.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonIdentityMismatch = "identity_mismatch"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonUnknownEvent     = "unknown_event"
	ReasonAuthFailed       = "auth_failed"
	ReasonPersistFailed    = "persist_failed"
	ReasonRateLimited      = "rate_limited"
	ReasonUnreachable      = "unreachable"
	ReasonNoPendingCall    = "no_pending_call"
	ReasonNoActiveCall     = "no_active_call"
	ReasonHangup           = "hangup"
	ReasonTimeout          = "timeout"
	ReasonDisconnected     = "disconnected"
)

// Channel name prefixes and the reserved channel every connection joins.
const (
	UserChannelPrefix  = "user:"
	GroupChannelPrefix = "group:"
	GlobalChannel      = "global"
)

// UserChannel returns the personal channel of a user.
func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

// GroupChannel returns the broadcast channel of a group chat room.
func GroupChannel(groupID string) string {
	return GroupChannelPrefix + groupID
}

// Envelope is the frame shape for both directions: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is what gets serialized onto a connection.
type OutboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ParseEnvelope decodes one inbound frame.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if strings.TrimSpace(env.Event) == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// ID is a user or group identifier. Clients send either JSON strings or
// numbers; both normalize to the decimal string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// AuthenticatePayload accepts either a bare id or {userId, token}.
type AuthenticatePayload struct {
	UserID ID     `json:"userId"`
	Token  string `json:"token,omitempty"`
}

func (p *AuthenticatePayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		type plain AuthenticatePayload
		var v plain
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*p = AuthenticatePayload(v)
		return nil
	}
	var id ID
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*p = AuthenticatePayload{UserID: id}
	return nil
}

type SendMessagePayload struct {
	SenderID   ID     `json:"senderId,omitempty"`
	ReceiverID ID     `json:"receiverId"`
	Content    string `json:"content"`
}

type SendGroupMessagePayload struct {
	SenderID ID     `json:"senderId,omitempty"`
	GroupID  ID     `json:"groupId"`
	Content  string `json:"content"`
}

// GroupPayload accepts either a bare group id or {groupId}.
type GroupPayload struct {
	GroupID ID `json:"groupId"`
}

func (p *GroupPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		type plain GroupPayload
		var v plain
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*p = GroupPayload(v)
		return nil
	}
	return p.GroupID.UnmarshalJSON(b)
}

type TypingPayload struct {
	SenderID   ID   `json:"senderId,omitempty"`
	ReceiverID ID   `json:"receiverId"`
	IsTyping   bool `json:"isTyping"`
}

type CallUserPayload struct {
	UserToCall ID              `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       ID              `json:"from,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type AnswerCallPayload struct {
	To     ID              `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type ICECandidatePayload struct {
	To        ID              `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// PeerPayload addresses reject_call and end_call.
type PeerPayload struct {
	To ID `json:"to"`
}

// Outbound payloads.

type AuthenticatedData struct {
	UserID string `json:"userId"`
}

type UserTypingData struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// NotificationData is pushed to a user's channel by collaborators outside the
// hub, e.g. a friend request.
type NotificationData struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	FromID  string `json:"fromId,omitempty"`
	Message string `json:"message,omitempty"`
}

type MessageErrorData struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

type IncomingCallData struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
	Name   string          `json:"name,omitempty"`
}

type CallAcceptedData struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

type ICECandidateData struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type CallPeerData struct {
	From   string `json:"from"`
	Reason string `json:"reason,omitempty"`
}

type CallFailureData struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type ErrorData struct {
	Event   string `json:"event,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
