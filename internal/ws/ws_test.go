package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	authenticate := func(r *http.Request) (string, error) {
		id := r.URL.Query().Get("token")
		if id == "" {
			return "", fmt.Errorf("missing token")
		}
		return id, nil
	}

	srv := httptest.NewServer(Handler(hub, authenticate, ""))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUpgradeRequiresAuth(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestNotifyReachesOwner(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "ther-1")

	// Let the hub register the connection before broadcasting.
	time.Sleep(50 * time.Millisecond)
	hub.Notify("ther-1", "appointment", "appt-1", "created")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Entity != "appointment" || event.ID != "appt-1" || event.Action != "created" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestNotifyScopedToTherapist(t *testing.T) {
	hub, srv := newTestServer(t)
	owner := dial(t, srv, "ther-1")
	other := dial(t, srv, "ther-2")

	time.Sleep(50 * time.Millisecond)
	hub.Notify("ther-1", "client", "client-1", "updated")

	owner.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := owner.ReadMessage(); err != nil {
		t.Fatalf("owner should receive the event: %v", err)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("other therapist must not receive the event")
	}
}
