package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"buddyhub/internal/router"
	"buddyhub/internal/testutil"
	"buddyhub/pkg/types"
)

type fixture struct {
	svc   *Service
	store *testutil.MemoryStore
	rooms *router.Router
}

func newFixture(limit int) *fixture {
	store := testutil.NewMemoryStore()
	rooms := router.NewRouter(nil, zerolog.Nop())
	return &fixture{
		svc:   NewService(store, rooms, NewRateLimiter(limit, time.Minute), nil, zerolog.Nop()),
		store: store,
		rooms: rooms,
	}
}

func (f *fixture) online(userID string) *testutil.RecordingConn {
	c := testutil.NewAuthedConn(userID)
	f.rooms.Join(c, types.UserChannel(userID))
	return c
}

// Functional Validation Tests - direct messages

func TestService_SendMessageDeliversAndAcks(t *testing.T) {
	f := newFixture(0)
	alice, bob := f.online("1"), f.online("2")

	msg, err := f.svc.SendMessage(context.Background(), alice, "1", "2", "hello")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)

	var got, ack types.ChatMessage
	assert.True(t, bob.Last(types.EventNewMessage, &got))
	assert.True(t, alice.Last(types.EventMessageSent, &ack))
	assert.Equal(t, got, ack)
	assert.Equal(t, "1", got.SenderID)
	assert.Equal(t, "2", got.ReceiverID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, 1, f.store.DirectCount())

	// the sender only gets the ack
	assert.Equal(t, []string{types.EventMessageSent}, alice.Events())
}

func TestService_SendMessageToOfflineUserStillPersists(t *testing.T) {
	f := newFixture(0)
	alice := f.online("1")

	_, err := f.svc.SendMessage(context.Background(), alice, "1", "2", "are you there?")
	assert.NoError(t, err)
	assert.Equal(t, 1, f.store.DirectCount())
	assert.Equal(t, 1, alice.Count(types.EventMessageSent))

	history, err := f.svc.DirectHistory(context.Background(), "2", "1", 0)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestService_NoteToSelf(t *testing.T) {
	f := newFixture(0)
	alice := f.online("1")

	_, err := f.svc.SendMessage(context.Background(), alice, "1", "1", "remember milk")
	assert.NoError(t, err)
	assert.Equal(t, 1, alice.Count(types.EventNewMessage))
	assert.Equal(t, 1, alice.Count(types.EventMessageSent))
}

func TestService_PersistFailureDeliversNothing(t *testing.T) {
	f := newFixture(0)
	alice, bob := f.online("1"), f.online("2")
	f.store.Fail(testutil.ErrStoreDown)

	_, err := f.svc.SendMessage(context.Background(), alice, "1", "2", "lost")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistFailed))
	assert.True(t, errors.Is(err, testutil.ErrStoreDown))

	assert.Empty(t, bob.Events())
	assert.Equal(t, []string{types.EventMessageError}, alice.Events())

	var data types.MessageErrorData
	assert.True(t, alice.Last(types.EventMessageError, &data))
	assert.Equal(t, types.ReasonPersistFailed, data.Reason)
	assert.Equal(t, "2", data.ReceiverID)
}

func TestService_ValidationRejectsBeforePersist(t *testing.T) {
	tests := []struct {
		name     string
		receiver string
		content  string
		want     error
	}{
		{"empty content", "2", "", types.ErrEmptyContent},
		{"blank content", "2", "   ", types.ErrEmptyContent},
		{"oversized content", "2", strings.Repeat("x", types.MaxContentBytes+1), types.ErrContentTooLarge},
		{"bad receiver", "not valid!", "hi", types.ErrInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			alice := f.online("1")

			_, err := f.svc.SendMessage(context.Background(), alice, "1", tt.receiver, tt.content)
			assert.True(t, errors.Is(err, tt.want))
			assert.Equal(t, 0, f.store.DirectCount())

			var data types.MessageErrorData
			assert.True(t, alice.Last(types.EventMessageError, &data))
			assert.Equal(t, types.ReasonInvalidPayload, data.Reason)
		})
	}
}

func TestService_RateLimit(t *testing.T) {
	f := newFixture(2)
	alice := f.online("1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.SendMessage(ctx, alice, "1", "2", "ok")
		assert.NoError(t, err)
	}
	_, err := f.svc.SendMessage(ctx, alice, "1", "2", "too many")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 2, f.store.DirectCount())

	var data types.MessageErrorData
	assert.True(t, alice.Last(types.EventMessageError, &data))
	assert.Equal(t, types.ReasonRateLimited, data.Reason)

	// another sender has its own window
	_, err = f.svc.SendMessage(ctx, nil, "3", "2", "fine")
	assert.NoError(t, err)
}

// Functional Validation Tests - group messages

func TestService_SendGroupMessage(t *testing.T) {
	f := newFixture(0)
	alice, bob, carol := f.online("1"), f.online("2"), f.online("3")
	f.rooms.Join(alice, types.GroupChannel("g1"))
	f.rooms.Join(bob, types.GroupChannel("g1"))

	msg, err := f.svc.SendGroupMessage(context.Background(), alice, "1", "g1", "hey all")
	assert.NoError(t, err)
	assert.True(t, msg.IsGroup())

	var got types.ChatMessage
	assert.True(t, bob.Last(types.EventNewGroupMessage, &got))
	assert.Equal(t, "g1", got.GroupID)
	assert.Equal(t, "1", got.SenderID)

	// the sender sees the echo as a member, with no separate ack
	assert.Equal(t, []string{types.EventNewGroupMessage}, alice.Events())
	assert.Empty(t, carol.Events())
}

func TestService_GroupMessageFromNonMemberHasNoEcho(t *testing.T) {
	f := newFixture(0)
	alice, bob := f.online("1"), f.online("2")
	f.rooms.Join(bob, types.GroupChannel("g1"))

	_, err := f.svc.SendGroupMessage(context.Background(), alice, "1", "g1", "drive-by")
	assert.NoError(t, err)
	assert.Empty(t, alice.Events())
	assert.Equal(t, 1, bob.Count(types.EventNewGroupMessage))
	assert.Equal(t, 1, f.store.GroupCount())
}

func TestService_GroupPersistFailure(t *testing.T) {
	f := newFixture(0)
	alice, bob := f.online("1"), f.online("2")
	f.rooms.Join(alice, types.GroupChannel("g1"))
	f.rooms.Join(bob, types.GroupChannel("g1"))
	f.store.Fail(testutil.ErrStoreDown)

	_, err := f.svc.SendGroupMessage(context.Background(), alice, "1", "g1", "lost")
	assert.True(t, errors.Is(err, ErrPersistFailed))
	assert.Empty(t, bob.Events())

	var data types.MessageErrorData
	assert.True(t, alice.Last(types.EventMessageError, &data))
	assert.Equal(t, "g1", data.GroupID)
}

// Functional Validation Tests - typing

func TestService_SetTyping(t *testing.T) {
	f := newFixture(1)
	bob := f.online("2")

	assert.NoError(t, f.svc.SetTyping("1", "2", true))
	assert.NoError(t, f.svc.SetTyping("1", "2", false))

	var data types.UserTypingData
	assert.True(t, bob.Last(types.EventUserTyping, &data))
	assert.Equal(t, "1", data.UserID)
	assert.False(t, data.IsTyping)
	assert.Equal(t, 2, bob.Count(types.EventUserTyping))
	assert.Equal(t, 0, f.store.DirectCount())
}

func TestService_SetTypingOfflineIsDropped(t *testing.T) {
	f := newFixture(0)
	assert.NoError(t, f.svc.SetTyping("1", "2", true))
	assert.Error(t, f.svc.SetTyping("1", "", true))
}

// Functional Validation Tests - notifications

func TestService_Notify(t *testing.T) {
	f := newFixture(1)
	bob := f.online("2")
	carol := f.online("3")

	n, err := f.svc.Notify("2", types.NotificationData{Type: "friend_request", From: "Alice", FromID: "1"})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	var data types.NotificationData
	assert.True(t, bob.Last(types.EventNotification, &data))
	assert.Equal(t, "friend_request", data.Type)
	assert.Equal(t, "Alice", data.From)
	assert.Equal(t, "1", data.FromID)
	assert.Empty(t, carol.Events())
	assert.Equal(t, 0, f.store.DirectCount())

	// notifications do not count against the sender's message budget
	_, err = f.svc.Notify("2", types.NotificationData{Type: "friend_request", FromID: "1"})
	assert.NoError(t, err)
	assert.Equal(t, 2, bob.Count(types.EventNotification))
}

func TestService_NotifyOfflineAndInvalid(t *testing.T) {
	f := newFixture(0)

	n, err := f.svc.Notify("9", types.NotificationData{Type: "friend_request"})
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.svc.Notify("bad id", types.NotificationData{Type: "friend_request"})
	assert.True(t, errors.Is(err, types.ErrInvalidUserID))

	_, err = f.svc.Notify("2", types.NotificationData{})
	assert.True(t, errors.Is(err, types.ErrMissingType))
}

func TestService_GroupHistoryValidatesID(t *testing.T) {
	f := newFixture(0)
	_, err := f.svc.GroupHistory(context.Background(), "bad id", 10)
	assert.True(t, errors.Is(err, types.ErrInvalidGroupID))
}
