package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buddyhub/pkg/interfaces"
)

// Hub receives the lifecycle of every connection the handler accepts.
type Hub interface {
	Connect(conn interfaces.Connection)
	Dispatch(ctx context.Context, conn interfaces.Connection, frame []byte)
	Disconnect(conn interfaces.Connection)
}

// Handler upgrades HTTP requests and pumps frames into the hub
// ARCHITECTURAL DISCOVERY: the handler owns no routing state; identity is
// bound later by the authenticate event, not by query parameters
type Handler struct {
	hub      Hub
	upgrader websocket.Upgrader
	opts     Options
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	pumps sync.WaitGroup
}

// NewHandler creates a handler. An empty origin list, or one containing "*",
// accepts every origin.
func NewHandler(hub Hub, opts Options, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "websocket").Logger(),
		conns:  make(map[string]*Connection),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	c := NewConnection(conn, h.opts, h.logger)
	h.logger.Debug().Str("conn_id", c.ID()).Str("remote", r.RemoteAddr).Msg("connection opened")

	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()

	h.hub.Connect(c)
	h.pumps.Add(1)
	go h.readPump(c)
}

// Open returns the number of live connections.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every live connection and waits until each one has been
// through the hub's disconnect path.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
	h.pumps.Wait()
}

// readPump hands every text frame to the hub in arrival order and runs the
// disconnect path once the socket is gone.
func (h *Handler) readPump(c *Connection) {
	defer h.pumps.Done()
	defer func() {
		h.hub.Disconnect(c)
		_ = c.Close()
		h.mu.Lock()
		delete(h.conns, c.ID())
		h.mu.Unlock()
		h.logger.Debug().Str("conn_id", c.ID()).Str("user_id", c.GetUserID()).Msg("connection closed")
	}()

	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.hub.Dispatch(c.Context(), c, data)
	}
}
