package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type tokenAuth string

func (a tokenAuth) Authenticate(token string) (string, bool) {
	return "operator", token == string(a)
}

type markerFunc func(ctx context.Context, clientID int64) (int64, error)

func (f markerFunc) MarkRead(ctx context.Context, clientID int64) (int64, error) {
	return f(ctx, clientID)
}

func startHub(t *testing.T, marker ReadMarker) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(marker)
	go hub.Run(ctx)
	srv := httptest.NewServer(ServeWs(hub, tokenAuth("secret")))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitSessions(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sessions, have %d", n, hub.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return ev
}

func TestServeWsRejectsBadToken(t *testing.T) {
	_, srv := startHub(t, nil)
	_, resp, err := dial(t, srv, "wrong")
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestPublishReachesSessions(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn, _, err := dial(t, srv, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitSessions(t, hub, 1)

	hub.Publish("message.new", map[string]any{"clientId": 3, "content": "hi"})
	ev := readEvent(t, conn)
	if ev.Type != "message.new" {
		t.Fatalf("unexpected event %+v", ev)
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data["content"] != "hi" {
		t.Fatalf("unexpected payload %+v", ev.Data)
	}
}

func TestMarkReadFromOperator(t *testing.T) {
	var got atomic.Int64
	hub, srv := startHub(t, markerFunc(func(_ context.Context, clientID int64) (int64, error) {
		got.Store(clientID)
		return 4, nil
	}))
	conn, _, err := dial(t, srv, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitSessions(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mark_read","data":{"clientId":5}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "messages.read" || got.Load() != 5 {
		t.Fatalf("mark_read not handled: event=%+v client=%d", ev, got.Load())
	}
}
