// Package delivery persists chat messages and hands them to the room router.
package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"buddyhub/internal/metrics"
	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// Service implements direct, group and typing delivery.
// ARCHITECTURAL DISCOVERY: persist-then-route; nothing is broadcast until the
// store has accepted the message and handed back its id and timestamp
type Service struct {
	store   interfaces.MessageStore
	rooms   interfaces.Broadcaster
	limiter *RateLimiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(store interfaces.MessageStore, rooms interfaces.Broadcaster, limiter *RateLimiter, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Service{
		store:   store,
		rooms:   rooms,
		limiter: limiter,
		metrics: m,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// SendMessage stores a direct message, delivers new_message to the
// receiver's channel and acknowledges the sender with message_sent. On
// failure the sender gets message_error and nothing is delivered.
func (s *Service) SendMessage(ctx context.Context, sender interfaces.Connection, senderID, receiverID, content string) (*types.ChatMessage, error) {
	fail := func(reason string, err error) (*types.ChatMessage, error) {
		s.notifyError(sender, types.MessageErrorData{ReceiverID: receiverID, Reason: reason, Message: err.Error()})
		return nil, err
	}

	if err := types.ValidateDirect(senderID, receiverID, content); err != nil {
		return fail(types.ReasonInvalidPayload, err)
	}
	if !s.limiter.Allow(senderID) {
		return fail(types.ReasonRateLimited, ErrRateLimited)
	}

	rec, err := s.store.AppendDirectMessage(ctx, senderID, receiverID, content)
	if err != nil {
		s.metrics.PersistFailed("direct")
		s.logger.Error().Err(err).Str("sender_id", senderID).Str("receiver_id", receiverID).Msg("direct message not stored")
		return fail(types.ReasonPersistFailed, fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}
	s.metrics.MessagePersisted("direct")

	msg := &types.ChatMessage{
		ID:         rec.ID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  rec.CreatedAt,
	}

	delivered := s.rooms.Broadcast(types.UserChannel(receiverID), types.EventNewMessage, msg)
	if sender != nil {
		if err := sender.WriteJSON(types.OutboundEvent{Event: types.EventMessageSent, Data: msg}); err != nil {
			s.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("sender ack not delivered")
		}
	}

	s.logger.Debug().
		Int64("message_id", msg.ID).
		Str("sender_id", senderID).
		Str("receiver_id", receiverID).
		Int("delivered", delivered).
		Msg("direct message delivered")

	return msg, nil
}

// SendGroupMessage stores a group message and broadcasts new_group_message to
// the group channel. The sender sees it only as a channel member.
func (s *Service) SendGroupMessage(ctx context.Context, sender interfaces.Connection, senderID, groupID, content string) (*types.ChatMessage, error) {
	fail := func(reason string, err error) (*types.ChatMessage, error) {
		s.notifyError(sender, types.MessageErrorData{GroupID: groupID, Reason: reason, Message: err.Error()})
		return nil, err
	}

	if err := types.ValidateGroup(senderID, groupID, content); err != nil {
		return fail(types.ReasonInvalidPayload, err)
	}
	if !s.limiter.Allow(senderID) {
		return fail(types.ReasonRateLimited, ErrRateLimited)
	}

	rec, err := s.store.AppendGroupMessage(ctx, groupID, senderID, content)
	if err != nil {
		s.metrics.PersistFailed("group")
		s.logger.Error().Err(err).Str("sender_id", senderID).Str("group_id", groupID).Msg("group message not stored")
		return fail(types.ReasonPersistFailed, fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}
	s.metrics.MessagePersisted("group")

	msg := &types.ChatMessage{
		ID:        rec.ID,
		SenderID:  senderID,
		GroupID:   groupID,
		Content:   content,
		CreatedAt: rec.CreatedAt,
	}

	delivered := s.rooms.Broadcast(types.GroupChannel(groupID), types.EventNewGroupMessage, msg)
	s.logger.Debug().
		Int64("message_id", msg.ID).
		Str("group_id", groupID).
		Int("delivered", delivered).
		Msg("group message delivered")

	return msg, nil
}

// SetTyping relays a typing indicator to the receiver. Nothing is stored.
func (s *Service) SetTyping(senderID, receiverID string, isTyping bool) error {
	if !types.IsValidUserID(senderID) || !types.IsValidUserID(receiverID) {
		return types.ErrInvalidUserID
	}
	s.rooms.Broadcast(types.UserChannel(receiverID), types.EventUserTyping, types.UserTypingData{
		UserID:   senderID,
		IsTyping: isTyping,
	})
	return nil
}

// Notify pushes a notification to every connection on the user's channel and
// returns how many received it. Nothing is stored; an offline user gets 0.
func (s *Service) Notify(userID string, n types.NotificationData) (int, error) {
	if !types.IsValidUserID(userID) {
		return 0, types.ErrInvalidUserID
	}
	if n.Type == "" {
		return 0, types.ErrMissingType
	}
	delivered := s.rooms.Broadcast(types.UserChannel(userID), types.EventNotification, n)
	s.logger.Debug().
		Str("user_id", userID).
		Str("type", n.Type).
		Int("delivered", delivered).
		Msg("notification pushed")
	return delivered, nil
}

// DirectHistory reads the conversation between two users from the store.
func (s *Service) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error) {
	if !types.IsValidUserID(userA) || !types.IsValidUserID(userB) {
		return nil, types.ErrInvalidUserID
	}
	return s.store.DirectHistory(ctx, userA, userB, limit)
}

// GroupHistory reads a group's log from the store.
func (s *Service) GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error) {
	if !types.IsValidGroupID(groupID) {
		return nil, types.ErrInvalidGroupID
	}
	return s.store.GroupHistory(ctx, groupID, limit)
}

// Limiter exposes the rate limiter so the hub's maintenance loop can clean it.
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

func (s *Service) notifyError(sender interfaces.Connection, data types.MessageErrorData) {
	if sender == nil {
		return
	}
	if err := sender.WriteJSON(types.OutboundEvent{Event: types.EventMessageError, Data: data}); err != nil {
		s.logger.Warn().Err(err).Str("reason", data.Reason).Msg("message_error not delivered")
	}
}
