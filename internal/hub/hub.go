// Package hub is the connection lifecycle manager: it owns the per-event
// dispatch table and ties presence, rooms, delivery and signaling together
// for every connection.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"buddyhub/internal/delivery"
	"buddyhub/internal/metrics"
	"buddyhub/internal/presence"
	"buddyhub/internal/router"
	"buddyhub/internal/signaling"
	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

const defaultMaintenanceInterval = time.Minute

// handlerFunc processes one inbound event. A returned error has already been
// reported to the client; it is only logged and counted.
type handlerFunc func(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error

// Deps are the components a hub coordinates.
type Deps struct {
	Presence  *presence.Registry
	Rooms     *router.Router
	Delivery  *delivery.Service
	Signaling *signaling.Coordinator
	Auth      interfaces.Authenticator
	Metrics   *metrics.Metrics
}

// Hub coordinates connection lifecycle and event dispatch
// ARCHITECTURAL DISCOVERY: events from one connection are dispatched in
// arrival order on that connection's read goroutine; different connections
// run concurrently and meet only inside the component locks
type Hub struct {
	presence  *presence.Registry
	rooms     *router.Router
	delivery  *delivery.Service
	signaling *signaling.Coordinator
	auth      interfaces.Authenticator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	handlers            map[string]handlerFunc
	maintenanceInterval time.Duration

	running  bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.RWMutex
}

func NewHub(deps Deps, logger zerolog.Logger) *Hub {
	h := &Hub{
		presence:            deps.Presence,
		rooms:               deps.Rooms,
		delivery:            deps.Delivery,
		signaling:           deps.Signaling,
		auth:                deps.Auth,
		metrics:             deps.Metrics,
		logger:              logger.With().Str("component", "hub").Logger(),
		maintenanceInterval: defaultMaintenanceInterval,
	}

	h.handlers = map[string]handlerFunc{
		types.EventAuthenticate:     h.handleAuthenticate,
		types.EventSendMessage:      h.handleSendMessage,
		types.EventSendGroupMessage: h.handleSendGroupMessage,
		types.EventJoinGroup:        h.handleJoinGroup,
		types.EventLeaveGroup:       h.handleLeaveGroup,
		types.EventTyping:           h.handleTyping,
		types.EventCallUser:         h.handleCallUser,
		types.EventAnswerCall:       h.handleAnswerCall,
		types.EventICECandidate:     h.handleICECandidate,
		types.EventRejectCall:       h.handleRejectCall,
		types.EventEndCall:          h.handleEndCall,
	}

	return h
}

// Start runs the maintenance loop until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	go h.maintain(ctx, h.shutdown, h.done)

	h.logger.Info().Dur("maintenance_interval", h.maintenanceInterval).Msg("hub started")
	return nil
}

// Stop ends the maintenance loop and cancels every ringing call timer.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.signaling.Close()
	h.logger.Info().Msg("hub stopped")
	return nil
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) maintain(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.delivery.Limiter().Cleanup()
			h.metrics.SetOnlineUsers(h.presence.Count())
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Connect is called once per accepted connection, before any event.
func (h *Hub) Connect(conn interfaces.Connection) {
	h.rooms.Join(conn, types.GlobalChannel)
	h.metrics.ConnectionOpened()
}

// Dispatch decodes one frame and runs its handler.
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, frame []byte) {
	env, err := types.ParseEnvelope(frame)
	if err != nil {
		h.metrics.EventReceived("invalid", "rejected")
		h.replyError(conn, "", types.ReasonInvalidPayload, err)
		return
	}

	handler, ok := h.handlers[env.Event]
	if !ok {
		h.metrics.EventReceived("unknown", "rejected")
		h.replyError(conn, env.Event, types.ReasonUnknownEvent, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event))
		return
	}

	if env.Event != types.EventAuthenticate && !h.ownsIdentity(conn) {
		h.metrics.EventReceived(env.Event, "rejected")
		h.replyError(conn, env.Event, types.ReasonNotAuthenticated, ErrNotAuthenticated)
		return
	}

	if err := handler(ctx, conn, env.Data); err != nil {
		h.metrics.EventReceived(env.Event, "error")
		h.logger.Debug().Err(err).
			Str("event", env.Event).
			Str("conn_id", conn.ID()).
			Str("user_id", conn.GetUserID()).
			Msg("event failed")
		return
	}
	h.metrics.EventReceived(env.Event, "ok")
}

// ownsIdentity reports whether conn is authenticated and still the live
// connection of its user. Last connection wins.
func (h *Hub) ownsIdentity(conn interfaces.Connection) bool {
	userID := conn.GetUserID()
	if userID == "" {
		return false
	}
	live, ok := h.presence.Lookup(userID)
	return ok && live.ID() == conn.ID()
}

// Disconnect releases everything the connection held. Presence and calls are
// only torn down when this connection still owned the user's entry.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	h.rooms.LeaveAll(conn)
	h.metrics.ConnectionClosed()

	userID := conn.GetUserID()
	if userID == "" {
		return
	}
	if !h.presence.Unregister(userID, conn) {
		h.logger.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Msg("stale connection closed")
		return
	}
	h.goneOffline(userID)
}

func (h *Hub) goneOffline(userID string) {
	h.metrics.SetOnlineUsers(h.presence.Count())
	h.rooms.Broadcast(types.GlobalChannel, types.EventUserOffline, userID)
	h.signaling.UserGone(userID)
	h.logger.Info().Str("user_id", userID).Msg("user offline")
}

// Stats summarizes hub state for the health endpoint.
func (h *Hub) Stats() map[string]int {
	stats := h.rooms.Stats()
	stats["online_users"] = h.presence.Count()
	stats["active_calls"] = h.signaling.ActiveCalls()
	return stats
}

func (h *Hub) reply(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.WriteJSON(types.OutboundEvent{Event: event, Data: data}); err != nil {
		h.logger.Warn().Err(err).Str("event", event).Str("conn_id", conn.ID()).Msg("reply not delivered")
	}
}

func (h *Hub) replyError(conn interfaces.Connection, event, reason string, err error) {
	h.reply(conn, types.EventError, types.ErrorData{Event: event, Reason: reason, Message: err.Error()})
}
