// Package presence tracks which user is online and through which connection.
package presence

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"buddyhub/pkg/interfaces"
)

const shardCount = 32

// Registry maps a user id to the single connection currently representing
// that user.
// ARCHITECTURAL DISCOVERY: the table is striped so unrelated users never
// contend on one lock; all operations on one user hit exactly one shard
type Registry struct {
	shards [shardCount]*shard
	logger zerolog.Logger
}

type shard struct {
	mu    sync.RWMutex
	users map[string]interfaces.Connection
}

func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{logger: logger.With().Str("component", "presence").Logger()}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]interfaces.Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register binds userID to conn and returns the connection it replaced, or
// nil when there was none or it was conn itself. The caller decides what
// happens to the replaced connection.
func (r *Registry) Register(userID string, conn interfaces.Connection) interfaces.Connection {
	s := r.shardFor(userID)
	s.mu.Lock()
	prev, existed := s.users[userID]
	s.users[userID] = conn
	s.mu.Unlock()

	if !existed || prev.ID() == conn.ID() {
		return nil
	}
	r.logger.Debug().Str("user_id", userID).Str("conn_id", conn.ID()).Str("superseded", prev.ID()).Msg("presence replaced")
	return prev
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (interfaces.Connection, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.users[userID]
	return conn, ok
}

// Unregister removes the binding only if it still points at conn, and
// reports whether it did.
// FUNCTIONAL DISCOVERY: a stale connection closing after a reconnect must not
// knock the user's live connection offline
func (r *Registry) Unregister(userID string, conn interfaces.Connection) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok || current != conn {
		return false
	}
	delete(s.users, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// OnlineUsers returns a sorted snapshot of online user ids.
func (r *Registry) OnlineUsers() []string {
	users := make([]string, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.users {
			users = append(users, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}
