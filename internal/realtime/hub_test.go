package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cooperblacks/liaotian/internal/observability"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// dialClient upgrades a test connection and registers it with the hub.
func dialClient(t *testing.T, h *Hub, userID string, groups []string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Register(conn, userID, groups)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func waitOnline(t *testing.T, h *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Online(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("user %s never came online", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// delivery
// ---------------------------------------------------------------------------

func TestHub_SendToUser(t *testing.T) {
	h := testHub()
	conn := dialClient(t, h, "alice", nil)
	waitOnline(t, h, "alice")

	h.SendToUser("alice", Event{Type: "message.direct", Payload: map[string]string{"content": "hi"}})

	ev := readEvent(t, conn)
	if ev.Type != "message.direct" {
		t.Errorf("unexpected event type %q", ev.Type)
	}
}

func TestHub_SendToGroupOnlyReachesSubscribers(t *testing.T) {
	h := testHub()
	member := dialClient(t, h, "alice", []string{"g1"})
	outsider := dialClient(t, h, "bob", nil)
	waitOnline(t, h, "alice")
	waitOnline(t, h, "bob")

	h.SendToGroup("g1", Event{Type: "message.group", Payload: map[string]string{"content": "hello group"}})

	ev := readEvent(t, member)
	if ev.Type != "message.group" {
		t.Errorf("unexpected event type %q", ev.Type)
	}

	outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := outsider.ReadMessage(); err == nil {
		t.Error("non-member must not receive group events")
	}
}

func TestHub_SendToUnknownUserIsNoOp(t *testing.T) {
	h := testHub()
	// Must not panic or block.
	h.SendToUser("nobody", Event{Type: "message.direct"})
	h.SendToGroup("nogroup", Event{Type: "message.group"})
}

// ---------------------------------------------------------------------------
// presence
// ---------------------------------------------------------------------------

// wsGaugeValue scrapes the connection gauge through the metrics handler.
func wsGaugeValue(t *testing.T) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	observability.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "liaotian_ws_connections ") {
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "liaotian_ws_connections "), 64)
			if err != nil {
				t.Fatalf("parse gauge: %v", err)
			}
			return v
		}
	}
	return 0
}

func TestHub_ConnectionGaugeDropsOnAbruptDisconnect(t *testing.T) {
	h := testHub()
	before := wsGaugeValue(t)

	conn := dialClient(t, h, "carol", nil)
	waitOnline(t, h, "carol")
	if got := wsGaugeValue(t); got != before+1 {
		t.Fatalf("gauge after connect: got %v, want %v", got, before+1)
	}

	// Close the underlying connection without a close frame.
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for wsGaugeValue(t) != before {
		if time.Now().After(deadline) {
			t.Fatalf("gauge never returned to %v after disconnect", before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_OnlineTracksDisconnect(t *testing.T) {
	h := testHub()
	conn := dialClient(t, h, "alice", nil)
	waitOnline(t, h, "alice")

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Online("alice") {
		if time.Now().After(deadline) {
			t.Fatal("user still online after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
