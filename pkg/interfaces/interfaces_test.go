package interfaces_test

import (
	"context"
	"testing"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
)

// Mock implementations for testing

type mockConnection struct{}

func (m *mockConnection) ID() string                          { return "" }
func (m *mockConnection) WriteJSON(v interface{}) error       { return nil }
func (m *mockConnection) Close() error                        { return nil }
func (m *mockConnection) GetUserID() string                   { return "" }
func (m *mockConnection) IsAuthenticated() bool               { return false }
func (m *mockConnection) SetCredentials(userID string) error  { return nil }

type mockStore struct{}

func (m *mockStore) AppendDirectMessage(ctx context.Context, senderID, receiverID, content string) (types.Record, error) {
	return types.Record{}, nil
}
func (m *mockStore) AppendGroupMessage(ctx context.Context, groupID, userID, content string) (types.Record, error) {
	return types.Record{}, nil
}
func (m *mockStore) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockStore) GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

type mockAuth struct{}

func (m *mockAuth) Authenticate(ctx context.Context, userID, token string) error { return nil }

type mockBroadcaster struct{}

func (m *mockBroadcaster) Broadcast(channel, event string, data interface{}) int { return 0 }

// Architectural Validation Tests - Ensure interfaces are properly defined

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.MessageStore = &mockStore{}
	var _ interfaces.Authenticator = &mockAuth{}
	var _ interfaces.Broadcaster = &mockBroadcaster{}
}

// Functional Validation Tests - MessageStore Interface

func TestMessageStore_InterfaceContract(t *testing.T) {
	var store interfaces.MessageStore = &mockStore{}
	ctx := context.Background()

	_, _ = store.AppendDirectMessage(ctx, "1", "2", "hi")
	_, _ = store.AppendGroupMessage(ctx, "g", "1", "hi")
	_, _ = store.DirectHistory(ctx, "1", "2", 50)
	_, _ = store.GroupHistory(ctx, "g", 100)
	_ = store.HealthCheck(ctx)
	_ = store.Close()
}
