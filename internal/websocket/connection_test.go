package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buddyhub/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("Connection should have an id")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.IsAuthenticated() {
		t.Error("New connection should not be authenticated")
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a, _ := createTestWebSocketConnection(t)
	b, _ := createTestWebSocketConnection(t)
	ca := NewConnection(a, Options{}, zerolog.Nop())
	cb := NewConnection(b, Options{}, zerolog.Nop())
	defer ca.Close()
	defer cb.Close()

	if ca.ID() == cb.ID() {
		t.Error("Connections must not share an id")
	}
}

func TestConnection_AuthenticationFlow(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	defer conn.Close()

	if err := conn.SetCredentials("42"); err != nil {
		t.Errorf("SetCredentials failed: %v", err)
	}
	if !conn.IsAuthenticated() {
		t.Error("Connection should be authenticated after SetCredentials")
	}
	if conn.GetUserID() != "42" {
		t.Errorf("Expected user id 42, got %s", conn.GetUserID())
	}
}

func TestConnection_WriteJSONReachesPeer(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"event": "user_online", "data": "7"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case frame := <-received:
		var got map[string]string
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("peer received invalid JSON: %v", err)
		}
		if got["event"] != "user_online" || got["data"] != "7" {
			t.Errorf("unexpected frame %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive the frame")
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	defer conn.Close()

	err := conn.WriteJSON(map[string]interface{}{"func": func() {}})
	if err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	select {
	case <-conn.Context().Done():
	default:
		t.Error("Context should be cancelled after Close")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	_ = conn.Close()

	if err := conn.WriteJSON(map[string]string{"event": "x"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_SlowConsumerIsClosed(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := &Connection{
		id:      "slow",
		conn:    wsConn,
		writeCh: make(chan []byte, 2),
		opts:    DefaultOptions(),
		logger:  zerolog.Nop(),
	}
	conn.ctx, conn.cancel = contextPair()
	// no writer goroutine: the buffer never drains

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(i); err != nil {
			t.Fatalf("write %d should fit the buffer: %v", i, err)
		}
	}
	if err := conn.WriteJSON(3); err != ErrSendBufferFull {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
	if err := conn.WriteJSON(4); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed after overflow, got %v", err)
	}
}

// Technical Validation Tests (Race Detection)
func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{SendBuffer: 1000}, zerolog.Nop())
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = conn.WriteJSON(map[string]int{"worker": id, "message": j})
			}
		}(i)
	}
	wg.Wait()
}

func TestConnection_ConcurrentCredentialAccess(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, Options{}, zerolog.Nop())
	defer conn.Close()

	_ = conn.SetCredentials("42")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if conn.GetUserID() != "42" || !conn.IsAuthenticated() {
				t.Errorf("Inconsistent credential values during concurrent access")
			}
		}()
	}
	wg.Wait()
}

// createTestWebSocketConnection dials a throwaway server and returns the
// client side plus a channel of every text frame the server receives.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan []byte) {
	received := make(chan []byte, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			select {
			case received <- data:
			default:
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn, received
}
