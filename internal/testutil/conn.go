// Package testutil holds fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"buddyhub/pkg/types"
)

// ErrConnClosed is returned by WriteJSON on a closed RecordingConn.
var ErrConnClosed = errors.New("recording connection closed")

// RecordingConn is an in-memory interfaces.Connection that keeps every frame
// written to it.
type RecordingConn struct {
	id string

	mu         sync.Mutex
	userID     string
	frames     []types.Envelope
	closed     bool
	failWrites error
}

func NewRecordingConn() *RecordingConn {
	return &RecordingConn{id: uuid.NewString()}
}

// NewAuthedConn returns a connection already bound to userID.
func NewAuthedConn(userID string) *RecordingConn {
	c := NewRecordingConn()
	c.userID = userID
	return c
}

func (c *RecordingConn) ID() string { return c.id }

func (c *RecordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.failWrites != nil {
		return c.failWrites
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *RecordingConn) GetUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *RecordingConn) IsAuthenticated() bool {
	return c.GetUserID() != ""
}

func (c *RecordingConn) SetCredentials(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	return nil
}

// FailWrites makes every following WriteJSON return err.
func (c *RecordingConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = err
}

func (c *RecordingConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of everything written so far.
func (c *RecordingConn) Frames() []types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the event names written so far, in order.
func (c *RecordingConn) Events() []string {
	frames := c.Frames()
	events := make([]string, len(frames))
	for i, f := range frames {
		events[i] = f.Event
	}
	return events
}

// Count returns how many frames carried event.
func (c *RecordingConn) Count(event string) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Event == event {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent frame carrying event into v and
// reports whether one was found.
func (c *RecordingConn) Last(event string, v interface{}) bool {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(frames[i].Data, v); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

// Reset drops the recorded frames.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
