// Package signaling relays WebRTC offer/answer/ICE traffic between two users
// and tracks the call lifecycle around it.
package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"buddyhub/internal/metrics"
	"buddyhub/internal/session"
	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// Coordinator drives call sessions. Signal and candidate payloads are opaque
// and relayed unchanged.
// ARCHITECTURAL DISCOVERY: every relay happens after the session table has
// released its lock, so a slow peer never stalls other calls
type Coordinator struct {
	sessions *session.Manager
	rooms    interfaces.Broadcaster
	presence interfaces.PresenceLookup
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewCoordinator(rooms interfaces.Broadcaster, presence interfaces.PresenceLookup, ringTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		rooms:    rooms,
		presence: presence,
		metrics:  m,
		logger:   logger.With().Str("component", "signaling").Logger(),
	}
	c.sessions = session.NewManager(ringTimeout, c.ringTimedOut)
	return c
}

// CallUser starts ringing calleeID on behalf of callerID. An offline callee
// gets no session; the caller is told call_failed instead.
func (c *Coordinator) CallUser(reply interfaces.Connection, callerID, calleeID string, offer json.RawMessage, name string) error {
	if !types.IsValidUserID(calleeID) {
		return types.ErrInvalidUserID
	}
	if !c.presence.IsOnline(calleeID) {
		c.metrics.CallOutcome("unreachable")
		c.send(reply, types.EventCallFailed, types.CallFailureData{To: calleeID, Reason: types.ReasonUnreachable})
		return ErrUnreachable
	}

	s, replaced, err := c.sessions.Start(callerID, calleeID)
	if err != nil {
		return err
	}
	if replaced != nil {
		c.logger.Debug().Str("call_id", replaced.ID).Str("by", s.ID).Msg("ringing call replaced")
	}
	c.metrics.CallOutcome("placed")

	c.rooms.Broadcast(types.UserChannel(calleeID), types.EventCallUser, types.IncomingCallData{
		Signal: offer,
		From:   callerID,
		Name:   name,
	})
	c.logger.Info().Str("call_id", s.ID).Str("caller_id", callerID).Str("callee_id", calleeID).Msg("call ringing")
	return nil
}

// AnswerCall connects the call callerID placed to calleeID and relays the
// answer to the caller.
func (c *Coordinator) AnswerCall(reply interfaces.Connection, calleeID, callerID string, answer json.RawMessage) error {
	s, err := c.sessions.Accept(callerID, calleeID)
	if err != nil {
		c.send(reply, types.EventCallError, types.CallFailureData{To: callerID, Reason: types.ReasonNoPendingCall})
		return fmt.Errorf("answer %s: %w", callerID, err)
	}
	c.metrics.CallOutcome("accepted")

	c.rooms.Broadcast(types.UserChannel(callerID), types.EventCallAccepted, types.CallAcceptedData{
		Signal: answer,
		From:   calleeID,
	})
	c.logger.Info().Str("call_id", s.ID).Msg("call connected")
	return nil
}

// RejectCall declines a ringing call and discards its session.
func (c *Coordinator) RejectCall(reply interfaces.Connection, calleeID, callerID string) error {
	s, err := c.sessions.Reject(callerID, calleeID)
	if err != nil {
		c.send(reply, types.EventCallError, types.CallFailureData{To: callerID, Reason: types.ReasonNoPendingCall})
		return fmt.Errorf("reject %s: %w", callerID, err)
	}
	c.metrics.CallOutcome("rejected")

	c.rooms.Broadcast(types.UserChannel(callerID), types.EventCallRejected, types.CallPeerData{From: calleeID})
	c.logger.Info().Str("call_id", s.ID).Msg("call rejected")
	return nil
}

// EndCall hangs up the live call between fromID and toID, whichever of the
// two placed it.
func (c *Coordinator) EndCall(reply interfaces.Connection, fromID, toID string) error {
	s, err := c.sessions.End(fromID, toID)
	if err != nil {
		c.send(reply, types.EventCallError, types.CallFailureData{To: toID, Reason: types.ReasonNoActiveCall})
		return fmt.Errorf("end %s: %w", toID, err)
	}
	c.metrics.CallOutcome("hangup")

	c.rooms.Broadcast(types.UserChannel(toID), types.EventCallEnded, types.CallPeerData{From: fromID, Reason: types.ReasonHangup})
	c.logger.Info().Str("call_id", s.ID).Str("by", fromID).Msg("call ended")
	return nil
}

// ICECandidate relays a candidate while the pair has a live session and
// drops it otherwise.
func (c *Coordinator) ICECandidate(fromID, toID string, candidate json.RawMessage) error {
	if !c.sessions.Live(fromID, toID) {
		c.logger.Debug().Str("from", fromID).Str("to", toID).Msg("ice candidate dropped, no live call")
		return ErrNoSession
	}
	c.rooms.Broadcast(types.UserChannel(toID), types.EventICECandidate, types.ICECandidateData{
		Candidate: candidate,
		From:      fromID,
	})
	return nil
}

// UserGone ends every live call of a user that went offline and tells each
// peer.
func (c *Coordinator) UserGone(userID string) {
	for _, s := range c.sessions.EndAllFor(userID) {
		c.metrics.CallOutcome("disconnected")
		c.rooms.Broadcast(types.UserChannel(s.Peer(userID)), types.EventCallEnded, types.CallPeerData{
			From:   userID,
			Reason: types.ReasonDisconnected,
		})
		c.logger.Info().Str("call_id", s.ID).Str("user_id", userID).Msg("call ended by disconnect")
	}
}

func (c *Coordinator) ringTimedOut(s types.CallSession) {
	c.metrics.CallOutcome("timeout")
	c.rooms.Broadcast(types.UserChannel(s.CallerID), types.EventCallEnded, types.CallPeerData{
		From:   s.CalleeID,
		Reason: types.ReasonTimeout,
	})
	c.rooms.Broadcast(types.UserChannel(s.CalleeID), types.EventCallEnded, types.CallPeerData{
		From:   s.CallerID,
		Reason: types.ReasonTimeout,
	})
	c.logger.Info().Str("call_id", s.ID).Msg("call not answered")
}

// ActiveCalls returns the number of ringing or connected calls.
func (c *Coordinator) ActiveCalls() int {
	return c.sessions.Active()
}

// Close stops all ring timers.
func (c *Coordinator) Close() {
	c.sessions.Close()
}

func (c *Coordinator) send(conn interfaces.Connection, event string, data interface{}) {
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(types.OutboundEvent{Event: event, Data: data}); err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("reply not delivered")
	}
}
