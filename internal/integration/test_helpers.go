package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buddyhub/internal/app"
	"buddyhub/internal/config"
	"buddyhub/pkg/types"
)

// TestHub is a running application on a loopback port backed by a temporary
// sqlite file.
type TestHub struct {
	URL    string
	Config *config.Config
}

// StartHub serves a full application until the test ends. mutate may adjust
// the config before start.
func StartHub(t *testing.T, mutate func(*config.Config)) *TestHub {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "buddyhub.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.RateLimit.MessagesPerMinute = 0
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, listener) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("application stopped with error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("application did not stop")
		}
	})

	hub := &TestHub{URL: "http://" + listener.Addr().String(), Config: cfg}
	hub.waitReady(t)
	return hub
}

func (h *TestHub) waitReady(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(h.URL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("hub never became healthy")
}

// GetJSON fetches path and decodes the body into v, returning the status code.
func (h *TestHub) GetJSON(t *testing.T, path string, header http.Header, v interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, vals := range header {
		req.Header[k] = vals
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// Client is one websocket connection to a TestHub.
type Client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *TestHub) Dial(t *testing.T) *Client {
	t.Helper()
	url := "ws" + h.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &Client{t: t, conn: conn}
}

// Login dials and authenticates as userID.
func (h *TestHub) Login(t *testing.T, userID string) *Client {
	t.Helper()
	c := h.Dial(t)
	c.Send(types.EventAuthenticate, userID)
	var data types.AuthenticatedData
	c.Expect(types.EventAuthenticated, &data)
	if data.UserID != userID {
		t.Fatalf("authenticated as %q, want %q", data.UserID, userID)
	}
	return c
}

func (c *Client) Send(event string, data interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		c.t.Fatalf("send %s: %v", event, err)
	}
}

// Expect reads frames until one carries event, skipping others, and decodes
// its data into v.
func (c *Client) Expect(event string, v interface{}) {
	c.t.Helper()
	if err := c.next(event, v, 3*time.Second); err != nil {
		c.t.Fatal(err)
	}
}

// ExpectNone asserts that no frame carrying event arrives within wait. The
// read deadline it sets is fatal to the socket, so call it last.
func (c *Client) ExpectNone(event string, wait time.Duration) {
	c.t.Helper()
	if err := c.next(event, nil, wait); err == nil {
		c.t.Fatalf("unexpected %s frame", event)
	}
}

func (c *Client) next(event string, v interface{}, wait time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("waiting for %s: %w", event, err)
		}
		if env.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				return fmt.Errorf("decode %s: %w", event, err)
			}
		}
		return nil
	}
}

// Sync waits until the hub has handled every frame sent so far on this
// connection. Frames from one connection are handled in order, so the reply
// to an unknown event marks the point.
func (c *Client) Sync() {
	c.t.Helper()
	c.Send("sync", nil)
	var e types.ErrorData
	c.Expect(types.EventError, &e)
	if e.Reason != types.ReasonUnknownEvent {
		c.t.Fatalf("sync got %s", e.Reason)
	}
}

func (c *Client) Close() {
	_ = c.conn.Close()
}
