// Package session keeps the table of two-party call sessions and their ring
// timers.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"buddyhub/pkg/types"
)

// DefaultRingTimeout bounds how long a call may ring unanswered.
const DefaultRingTimeout = 30 * time.Second

type pairKey struct {
	caller string
	callee string
}

type entry struct {
	session types.CallSession
	timer   *time.Timer
}

// Manager owns every live call session, keyed by the ordered pair
// (caller, callee). Only RINGING and CONNECTED sessions are stored; a session
// that ends is removed from the table.
// ARCHITECTURAL DISCOVERY: all methods return copies, so callers can relay
// events after the lock is released without racing the table
type Manager struct {
	mu          sync.Mutex
	calls       map[pairKey]*entry
	ringTimeout time.Duration
	onTimeout   func(types.CallSession)
	now         func() time.Time
}

// NewManager creates a session table. onTimeout runs, outside the lock, for
// every session whose ring timer expires while it is still RINGING.
func NewManager(ringTimeout time.Duration, onTimeout func(types.CallSession)) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Manager{
		calls:       make(map[pairKey]*entry),
		ringTimeout: ringTimeout,
		onTimeout:   onTimeout,
		now:         time.Now,
	}
}

// Start opens a RINGING session for (caller, callee) and arms its ring timer.
// A previous session of the same ordered pair is replaced and returned.
func (m *Manager) Start(callerID, calleeID string) (types.CallSession, *types.CallSession, error) {
	if callerID == "" || calleeID == "" || callerID == calleeID {
		return types.CallSession{}, nil, ErrInvalidPair
	}

	key := pairKey{callerID, calleeID}
	s := types.CallSession{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		State:     types.CallRinging,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var replaced *types.CallSession
	if prev, ok := m.calls[key]; ok {
		prev.timer.Stop()
		old := prev.session
		old.State = types.CallEnded
		replaced = &old
	}

	e := &entry{session: s}
	e.timer = time.AfterFunc(m.ringTimeout, func() { m.expire(key, s.ID) })
	m.calls[key] = e

	return s, replaced, nil
}

func (m *Manager) expire(key pairKey, id string) {
	m.mu.Lock()
	e, ok := m.calls[key]
	if !ok || e.session.ID != id || e.session.State != types.CallRinging {
		m.mu.Unlock()
		return
	}
	delete(m.calls, key)
	ended := e.session
	ended.State = types.CallEnded
	m.mu.Unlock()

	if m.onTimeout != nil {
		m.onTimeout(ended)
	}
}

// Accept moves the RINGING session (caller, callee) to CONNECTED.
func (m *Manager) Accept(callerID, calleeID string) (types.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.calls[pairKey{callerID, calleeID}]
	if !ok || e.session.State != types.CallRinging {
		return types.CallSession{}, ErrNoPendingCall
	}
	e.timer.Stop()
	e.session.State = types.CallConnected
	return e.session, nil
}

// Reject ends the RINGING session (caller, callee) and discards it.
func (m *Manager) Reject(callerID, calleeID string) (types.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{callerID, calleeID}
	e, ok := m.calls[key]
	if !ok || e.session.State != types.CallRinging {
		return types.CallSession{}, ErrNoPendingCall
	}
	return m.remove(key, e), nil
}

// End terminates the live session between a and b in either orientation.
func (m *Manager) End(a, b string) (types.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range []pairKey{{a, b}, {b, a}} {
		if e, ok := m.calls[key]; ok {
			return m.remove(key, e), nil
		}
	}
	return types.CallSession{}, ErrNoActiveCall
}

// EndAllFor terminates every live session involving userID.
func (m *Manager) EndAllFor(userID string) []types.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []types.CallSession
	for key, e := range m.calls {
		if key.caller == userID || key.callee == userID {
			ended = append(ended, m.remove(key, e))
		}
	}
	return ended
}

// remove must be called with m.mu held.
func (m *Manager) remove(key pairKey, e *entry) types.CallSession {
	e.timer.Stop()
	delete(m.calls, key)
	s := e.session
	s.State = types.CallEnded
	return s
}

// Live reports whether a RINGING or CONNECTED session exists between a and b
// in either orientation.
func (m *Manager) Live(a, b string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ab := m.calls[pairKey{a, b}]
	_, ba := m.calls[pairKey{b, a}]
	return ab || ba
}

// Get returns the live session of the ordered pair.
func (m *Manager) Get(callerID, calleeID string) (types.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[pairKey{callerID, calleeID}]
	if !ok {
		return types.CallSession{}, false
	}
	return e.session, true
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Close stops every ring timer and drops all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.calls {
		e.timer.Stop()
		delete(m.calls, key)
	}
}
