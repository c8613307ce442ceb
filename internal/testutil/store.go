package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// ErrStoreDown is the failure MemoryStore injects by default.
var ErrStoreDown = errors.New("store unavailable")

// MemoryStore is an interfaces.MessageStore kept in memory.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	direct []*types.ChatMessage
	group  []*types.ChatMessage
	fail   error
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ interfaces.MessageStore = (*MemoryStore)(nil)

// Fail makes appends return err until called again with nil.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) append(msg *types.ChatMessage, group bool) (types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Record{}, interfaces.ErrStoreClosed
	}
	if s.fail != nil {
		return types.Record{}, s.fail
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now().UTC()
	if group {
		s.group = append(s.group, msg)
	} else {
		s.direct = append(s.direct, msg)
	}
	return types.Record{ID: msg.ID, CreatedAt: msg.CreatedAt}, nil
}

func (s *MemoryStore) AppendDirectMessage(ctx context.Context, senderID, receiverID, content string) (types.Record, error) {
	return s.append(&types.ChatMessage{SenderID: senderID, ReceiverID: receiverID, Content: content}, false)
}

func (s *MemoryStore) AppendGroupMessage(ctx context.Context, groupID, userID, content string) (types.Record, error) {
	return s.append(&types.ChatMessage{SenderID: userID, GroupID: groupID, Content: content}, true)
}

func (s *MemoryStore) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ChatMessage
	for _, m := range s.direct {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			c := *m
			out = append(out, &c)
		}
	}
	return tail(out, limit), nil
}

func (s *MemoryStore) GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ChatMessage
	for _, m := range s.group {
		if m.GroupID == groupID {
			c := *m
			out = append(out, &c)
		}
	}
	return tail(out, limit), nil
}

// DirectCount returns how many direct messages were persisted.
func (s *MemoryStore) DirectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.direct)
}

// GroupCount returns how many group messages were persisted.
func (s *MemoryStore) GroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.group)
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return s.fail
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func tail(msgs []*types.ChatMessage, limit int) []*types.ChatMessage {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}
