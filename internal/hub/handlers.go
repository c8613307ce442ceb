package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// decode unmarshals data into v and reports invalid_payload on failure.
func (h *Hub) decode(conn interfaces.Connection, event string, data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		err := fmt.Errorf("%w: missing data", ErrInvalidPayload)
		h.replyError(conn, event, types.ReasonInvalidPayload, err)
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		h.replyError(conn, event, types.ReasonInvalidPayload, err)
		return err
	}
	return nil
}

// sender resolves the acting user. The bound identity always wins; a
// payload that names somebody else is refused.
func (h *Hub) sender(conn interfaces.Connection, event string, claimed types.ID) (string, error) {
	userID := conn.GetUserID()
	if claimed != "" && claimed.String() != userID {
		err := fmt.Errorf("%w: %s", ErrIdentityMismatch, claimed)
		h.replyError(conn, event, types.ReasonIdentityMismatch, err)
		return "", err
	}
	return userID, nil
}

func (h *Hub) handleAuthenticate(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.AuthenticatePayload
	if err := h.decode(conn, types.EventAuthenticate, data, &p); err != nil {
		return err
	}
	userID := p.UserID.String()
	if !types.IsValidUserID(userID) {
		h.replyError(conn, types.EventAuthenticate, types.ReasonInvalidPayload, types.ErrInvalidUserID)
		return types.ErrInvalidUserID
	}
	if err := h.auth.Authenticate(ctx, userID, p.Token); err != nil {
		h.replyError(conn, types.EventAuthenticate, types.ReasonAuthFailed, err)
		h.logger.Info().Err(err).Str("user_id", userID).Str("conn_id", conn.ID()).Msg("authentication refused")
		return err
	}

	// FUNCTIONAL DISCOVERY: switching identity on a live connection releases
	// the old identity exactly like a disconnect would
	previous := conn.GetUserID()
	if previous != "" && previous != userID {
		h.rooms.Leave(conn, types.UserChannel(previous))
		if h.presence.Unregister(previous, conn) {
			h.goneOffline(previous)
		}
	}

	if err := conn.SetCredentials(userID); err != nil {
		h.replyError(conn, types.EventAuthenticate, types.ReasonAuthFailed, err)
		return err
	}
	if replaced := h.presence.Register(userID, conn); replaced != nil {
		h.supersede(replaced, userID)
	}
	h.rooms.Join(conn, types.UserChannel(userID))
	h.metrics.SetOnlineUsers(h.presence.Count())

	h.reply(conn, types.EventAuthenticated, types.AuthenticatedData{UserID: userID})
	if previous != userID {
		h.rooms.Broadcast(types.GlobalChannel, types.EventUserOnline, userID)
		h.logger.Info().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("user online")
	}
	return nil
}

// supersede strips a replaced connection of the identity it held. It stays
// open on global but no longer receives or sends as userID, and is not told.
func (h *Hub) supersede(old interfaces.Connection, userID string) {
	h.rooms.Leave(old, types.UserChannel(userID))
	if old.GetUserID() == userID {
		_ = old.SetCredentials("")
	}
	h.logger.Info().Str("user_id", userID).Str("conn_id", old.ID()).Msg("connection superseded")
}

func (h *Hub) handleSendMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.SendMessagePayload
	if err := h.decode(conn, types.EventSendMessage, data, &p); err != nil {
		return err
	}
	senderID, err := h.sender(conn, types.EventSendMessage, p.SenderID)
	if err != nil {
		return err
	}
	_, err = h.delivery.SendMessage(ctx, conn, senderID, p.ReceiverID.String(), p.Content)
	return err
}

func (h *Hub) handleSendGroupMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.SendGroupMessagePayload
	if err := h.decode(conn, types.EventSendGroupMessage, data, &p); err != nil {
		return err
	}
	senderID, err := h.sender(conn, types.EventSendGroupMessage, p.SenderID)
	if err != nil {
		return err
	}
	_, err = h.delivery.SendGroupMessage(ctx, conn, senderID, p.GroupID.String(), p.Content)
	return err
}

func (h *Hub) groupChannel(conn interfaces.Connection, event string, data json.RawMessage) (string, error) {
	var p types.GroupPayload
	if err := h.decode(conn, event, data, &p); err != nil {
		return "", err
	}
	if !types.IsValidGroupID(p.GroupID.String()) {
		h.replyError(conn, event, types.ReasonInvalidPayload, types.ErrInvalidGroupID)
		return "", types.ErrInvalidGroupID
	}
	return types.GroupChannel(p.GroupID.String()), nil
}

func (h *Hub) handleJoinGroup(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	channel, err := h.groupChannel(conn, types.EventJoinGroup, data)
	if err != nil {
		return err
	}
	h.rooms.Join(conn, channel)
	return nil
}

func (h *Hub) handleLeaveGroup(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	channel, err := h.groupChannel(conn, types.EventLeaveGroup, data)
	if err != nil {
		return err
	}
	h.rooms.Leave(conn, channel)
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.TypingPayload
	if err := h.decode(conn, types.EventTyping, data, &p); err != nil {
		return err
	}
	senderID, err := h.sender(conn, types.EventTyping, p.SenderID)
	if err != nil {
		return err
	}
	if err := h.delivery.SetTyping(senderID, p.ReceiverID.String(), p.IsTyping); err != nil {
		h.replyError(conn, types.EventTyping, types.ReasonInvalidPayload, err)
		return err
	}
	return nil
}

func (h *Hub) handleCallUser(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.CallUserPayload
	if err := h.decode(conn, types.EventCallUser, data, &p); err != nil {
		return err
	}
	callerID, err := h.sender(conn, types.EventCallUser, p.From)
	if err != nil {
		return err
	}
	calleeID := p.UserToCall.String()
	if !types.IsValidUserID(calleeID) || calleeID == callerID {
		h.replyError(conn, types.EventCallUser, types.ReasonInvalidPayload, types.ErrInvalidUserID)
		return types.ErrInvalidUserID
	}
	return h.signaling.CallUser(conn, callerID, calleeID, p.SignalData, p.Name)
}

func (h *Hub) handleAnswerCall(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.AnswerCallPayload
	if err := h.decode(conn, types.EventAnswerCall, data, &p); err != nil {
		return err
	}
	return h.signaling.AnswerCall(conn, conn.GetUserID(), p.To.String(), p.Signal)
}

func (h *Hub) handleICECandidate(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.ICECandidatePayload
	if err := h.decode(conn, types.EventICECandidate, data, &p); err != nil {
		return err
	}
	return h.signaling.ICECandidate(conn.GetUserID(), p.To.String(), p.Candidate)
}

func (h *Hub) handleRejectCall(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.PeerPayload
	if err := h.decode(conn, types.EventRejectCall, data, &p); err != nil {
		return err
	}
	return h.signaling.RejectCall(conn, conn.GetUserID(), p.To.String())
}

func (h *Hub) handleEndCall(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var p types.PeerPayload
	if err := h.decode(conn, types.EventEndCall, data, &p); err != nil {
		return err
	}
	return h.signaling.EndCall(conn, conn.GetUserID(), p.To.String())
}
