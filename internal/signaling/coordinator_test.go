package signaling

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"buddyhub/internal/presence"
	"buddyhub/internal/router"
	"buddyhub/internal/testutil"
	"buddyhub/pkg/types"
)

type fixture struct {
	coord    *Coordinator
	rooms    *router.Router
	presence *presence.Registry
}

func newFixture(t *testing.T, ringTimeout time.Duration) *fixture {
	rooms := router.NewRouter(nil, zerolog.Nop())
	reg := presence.NewRegistry(zerolog.Nop())
	coord := NewCoordinator(rooms, reg, ringTimeout, nil, zerolog.Nop())
	t.Cleanup(coord.Close)
	return &fixture{coord: coord, rooms: rooms, presence: reg}
}

func (f *fixture) online(userID string) *testutil.RecordingConn {
	c := testutil.NewAuthedConn(userID)
	f.presence.Register(userID, c)
	f.rooms.Join(c, types.UserChannel(userID))
	return c
}

var (
	offer     = json.RawMessage(`{"type":"offer","sdp":"v=0 offer"}`)
	answer    = json.RawMessage(`{"type":"answer","sdp":"v=0 answer"}`)
	candidate = json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}`)
)

// Functional Validation Tests - happy path

func TestCoordinator_FullCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.NoError(t, f.coord.CallUser(alice, "1", "2", offer, "Alice"))

	var incoming types.IncomingCallData
	assert.True(t, bob.Last(types.EventCallUser, &incoming))
	assert.Equal(t, "1", incoming.From)
	assert.Equal(t, "Alice", incoming.Name)
	assert.Equal(t, string(offer), string(incoming.Signal))

	assert.NoError(t, f.coord.AnswerCall(bob, "2", "1", answer))
	var accepted types.CallAcceptedData
	assert.True(t, alice.Last(types.EventCallAccepted, &accepted))
	assert.Equal(t, "2", accepted.From)
	assert.Equal(t, string(answer), string(accepted.Signal))

	// candidates flow both ways while connected
	assert.NoError(t, f.coord.ICECandidate("1", "2", candidate))
	assert.NoError(t, f.coord.ICECandidate("2", "1", candidate))
	var ice types.ICECandidateData
	assert.True(t, bob.Last(types.EventICECandidate, &ice))
	assert.Equal(t, "1", ice.From)
	assert.Equal(t, string(candidate), string(ice.Candidate))

	assert.NoError(t, f.coord.EndCall(bob, "2", "1"))
	var ended types.CallPeerData
	assert.True(t, alice.Last(types.EventCallEnded, &ended))
	assert.Equal(t, "2", ended.From)
	assert.Equal(t, types.ReasonHangup, ended.Reason)
	assert.Equal(t, 0, f.coord.ActiveCalls())
}

func TestCoordinator_CallOfflineUser(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.online("1")

	err := f.coord.CallUser(alice, "1", "9", offer, "Alice")
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, 0, f.coord.ActiveCalls())

	var failed types.CallFailureData
	assert.True(t, alice.Last(types.EventCallFailed, &failed))
	assert.Equal(t, "9", failed.To)
	assert.Equal(t, types.ReasonUnreachable, failed.Reason)
}

func TestCoordinator_AnswerWithoutRinging(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.Error(t, f.coord.AnswerCall(bob, "2", "1", answer))
	assert.Equal(t, 0, alice.Count(types.EventCallAccepted))

	var callErr types.CallFailureData
	assert.True(t, bob.Last(types.EventCallError, &callErr))
	assert.Equal(t, "1", callErr.To)
	assert.Equal(t, types.ReasonNoPendingCall, callErr.Reason)
}

func TestCoordinator_RejectStopsFurtherSignaling(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.NoError(t, f.coord.CallUser(alice, "1", "2", offer, ""))
	assert.NoError(t, f.coord.RejectCall(bob, "2", "1"))

	var rejected types.CallPeerData
	assert.True(t, alice.Last(types.EventCallRejected, &rejected))
	assert.Equal(t, "2", rejected.From)

	assert.True(t, errors.Is(f.coord.ICECandidate("1", "2", candidate), ErrNoSession))
	assert.Equal(t, 0, bob.Count(types.EventICECandidate))
	assert.Error(t, f.coord.AnswerCall(bob, "2", "1", answer))
	assert.Equal(t, 0, alice.Count(types.EventCallAccepted))
}

func TestCoordinator_EndWithoutCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.Error(t, f.coord.EndCall(alice, "1", "2"))
	assert.Equal(t, 0, bob.Count(types.EventCallEnded))

	var callErr types.CallFailureData
	assert.True(t, alice.Last(types.EventCallError, &callErr))
	assert.Equal(t, types.ReasonNoActiveCall, callErr.Reason)
}

func TestCoordinator_CallerCancelsWhileRinging(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.NoError(t, f.coord.CallUser(alice, "1", "2", offer, ""))
	assert.NoError(t, f.coord.EndCall(alice, "1", "2"))

	var ended types.CallPeerData
	assert.True(t, bob.Last(types.EventCallEnded, &ended))
	assert.Equal(t, "1", ended.From)
	assert.Equal(t, types.ReasonHangup, ended.Reason)
}

func TestCoordinator_UserGone(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice, bob := f.online("1"), f.online("2")

	assert.NoError(t, f.coord.CallUser(alice, "1", "2", offer, ""))
	assert.NoError(t, f.coord.AnswerCall(bob, "2", "1", answer))

	f.coord.UserGone("2")

	var ended types.CallPeerData
	assert.True(t, alice.Last(types.EventCallEnded, &ended))
	assert.Equal(t, "2", ended.From)
	assert.Equal(t, types.ReasonDisconnected, ended.Reason)
	assert.Equal(t, 0, f.coord.ActiveCalls())

	// nobody else is affected
	f.coord.UserGone("3")
	assert.Equal(t, 1, alice.Count(types.EventCallEnded))
}

// Technical Validation Tests - ring timeout

func TestCoordinator_RingTimeoutNotifiesBoth(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	alice, bob := f.online("1"), f.online("2")

	assert.NoError(t, f.coord.CallUser(alice, "1", "2", offer, ""))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && (alice.Count(types.EventCallEnded) == 0 || bob.Count(types.EventCallEnded) == 0) {
		time.Sleep(5 * time.Millisecond)
	}

	var toCaller, toCallee types.CallPeerData
	assert.True(t, alice.Last(types.EventCallEnded, &toCaller))
	assert.True(t, bob.Last(types.EventCallEnded, &toCallee))
	assert.Equal(t, "2", toCaller.From)
	assert.Equal(t, "1", toCallee.From)
	assert.Equal(t, types.ReasonTimeout, toCaller.Reason)
	assert.Equal(t, types.ReasonTimeout, toCallee.Reason)

	// a late answer finds nothing to accept
	assert.Error(t, f.coord.AnswerCall(bob, "2", "1", answer))
}
