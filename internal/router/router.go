// Package router fans events out to named channels of connections.
package router

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"buddyhub/internal/metrics"
	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// Router keeps channel membership in two indexes: channel -> members and
// connection -> channels.
// ARCHITECTURAL DISCOVERY: lock order is channel.mu before r.mu, never the
// reverse; r.mu is only held for map bookkeeping and never across a send
type Router struct {
	mu          sync.RWMutex
	channels    map[string]*channel
	memberships map[string]map[string]struct{} // conn ID -> channel names

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// channel serializes its broadcasts and membership changes on mu, so the
// delivery order on a channel equals the order of Broadcast calls and a
// broadcast reaches exactly the members present when it started.
type channel struct {
	mu      sync.Mutex
	name    string
	members map[string]interfaces.Connection
	removed bool
}

func NewRouter(m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		channels:    make(map[string]*channel),
		memberships: make(map[string]map[string]struct{}),
		metrics:     m,
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

func (r *Router) getOrCreate(name string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{name: name, members: make(map[string]interfaces.Connection)}
		r.channels[name] = ch
	}
	return ch
}

func (r *Router) lookup(name string) *channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}

// Join adds conn to channel. Joining twice is a no-op.
func (r *Router) Join(conn interfaces.Connection, name string) {
	if conn == nil || name == "" {
		return
	}
	for {
		ch := r.getOrCreate(name)
		ch.mu.Lock()
		if ch.removed {
			// emptied and dropped between lookup and lock
			ch.mu.Unlock()
			continue
		}
		ch.members[conn.ID()] = conn

		r.mu.Lock()
		set, ok := r.memberships[conn.ID()]
		if !ok {
			set = make(map[string]struct{})
			r.memberships[conn.ID()] = set
		}
		set[name] = struct{}{}
		r.mu.Unlock()

		ch.mu.Unlock()
		return
	}
}

// Leave removes conn from channel. Unknown channels and non-members are
// ignored. A channel left empty is deleted.
func (r *Router) Leave(conn interfaces.Connection, name string) {
	if conn == nil {
		return
	}
	ch := r.lookup(name)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return
	}
	delete(ch.members, conn.ID())

	r.mu.Lock()
	if set, ok := r.memberships[conn.ID()]; ok {
		delete(set, name)
		if len(set) == 0 {
			delete(r.memberships, conn.ID())
		}
	}
	if len(ch.members) == 0 {
		ch.removed = true
		delete(r.channels, name)
	}
	r.mu.Unlock()
}

// LeaveAll removes conn from every channel it joined and returns those
// channel names, sorted.
func (r *Router) LeaveAll(conn interfaces.Connection) []string {
	if conn == nil {
		return nil
	}
	names := r.Channels(conn)
	for _, name := range names {
		r.Leave(conn, name)
	}
	return names
}

// Broadcast hands {event, data} to every current member of channel and
// returns how many connections accepted it. Members whose write fails are
// skipped; the transport decides whether such a connection survives.
func (r *Router) Broadcast(name, event string, data interface{}) int {
	ch := r.lookup(name)
	if ch == nil {
		return 0
	}

	frame := types.OutboundEvent{Event: event, Data: data}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return 0
	}

	delivered := 0
	for _, conn := range ch.members {
		if err := conn.WriteJSON(frame); err != nil {
			r.metrics.DeliveryFailed(event)
			r.logger.Warn().Err(err).
				Str("channel", name).
				Str("event", event).
				Str("conn_id", conn.ID()).
				Msg("delivery skipped")
			continue
		}
		delivered++
	}
	r.metrics.Delivered(event, delivered)
	return delivered
}

// Members returns the number of connections joined to channel.
func (r *Router) Members(name string) int {
	ch := r.lookup(name)
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// Channels returns the channels conn is joined to, sorted.
func (r *Router) Channels(conn interfaces.Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.memberships[conn.ID()]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns router counters for monitoring.
func (r *Router) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"channels":    len(r.channels),
		"connections": len(r.memberships),
	}
}
