package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
)

func startHub(t *testing.T, allowed []string) (*Hub, string) {
	t.Helper()
	hub := NewHub(testLogger(), allowed)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestHub_SendsLatestStatusOnConnect(t *testing.T) {
	hub, url := startHub(t, nil)
	hub.PublishStatuses([]host.Status{{ID: "1", Hostname: "web1", Network: host.StateOnline, Service: host.StateOnline}})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != MessageStatus {
		t.Fatalf("expected %q, got %q", MessageStatus, msg.Type)
	}
	statuses, ok := msg.Data.([]any)
	if !ok || len(statuses) != 1 {
		t.Fatalf("unexpected data: %#v", msg.Data)
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub, url := startHub(t, nil)
	hub.PublishStatuses(nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the cached snapshot arrives once the client is registered
	if msg := readMessage(t, conn); msg.Type != MessageStatus {
		t.Fatalf("expected status first, got %q", msg.Type)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}

	if err := hub.Emit(context.Background(), event.New(event.KindHostDown, "", map[string]any{"hostname": "web1"})); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	// a status broadcast queued before the client registered may still arrive
	msg := readMessage(t, conn)
	for msg.Type == MessageStatus {
		msg = readMessage(t, conn)
	}
	if msg.Type != MessageEvent {
		t.Fatalf("expected %q, got %q", MessageEvent, msg.Type)
	}
	data, _ := msg.Data.(map[string]any)
	if data["kind"] != string(event.KindHostDown) {
		t.Errorf("unexpected event: %v", data)
	}
}

func TestHub_RejectsDisallowedOrigin(t *testing.T) {
	_, url := startHub(t, []string{"dash.example.com"})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"dash.example.com", "https://ops.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://dash.example.com", true},
		{"https://ops.example.com", true},
		{"http://ops.example.com", false},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	if !originChecker([]string{"*"})(httptest.NewRequest("GET", "/ws", nil)) {
		t.Error("expected wildcard to allow everything")
	}
}
