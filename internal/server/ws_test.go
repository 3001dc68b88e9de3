package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/session"
)

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return payload
}

func TestWSStreamsSessionEvents(t *testing.T) {
	h := newHarness()
	h.ctrl.set(func(s *session.Session) { s.Transcript = "earlier " })
	srv := httptest.NewServer(Handler(h.hub, h.deps))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if ev := readEvent(t, conn); ev["type"] != "connection" || ev["connected"] != true {
		t.Fatalf("expected connection event, got %v", ev)
	}
	ev := readEvent(t, conn)
	if ev["type"] != "session" {
		t.Fatalf("expected initial session event, got %v", ev)
	}
	if sess, _ := ev["session"].(map[string]any); sess["transcript"] != "earlier " {
		t.Fatalf("unexpected initial session %v", ev["session"])
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.hub.BroadcastTranscriptAppended("hello ", session.SourceLive)
	ev = readEvent(t, conn)
	if ev["type"] != "transcript_appended" || ev["text"] != "hello " || ev["source"] != "live" {
		t.Fatalf("unexpected transcript event %v", ev)
	}

	h.hub.BroadcastTick(7)
	if ev := readEvent(t, conn); ev["type"] != "tick" || ev["elapsedSeconds"] != float64(7) {
		t.Fatalf("unexpected tick event %v", ev)
	}

	h.hub.BroadcastNotification(notify.Notification{Message: "Recording started", Severity: notify.Success, Visible: true})
	if ev := readEvent(t, conn); ev["type"] != "notification" || ev["message"] != "Recording started" || ev["severity"] != "success" {
		t.Fatalf("unexpected notification event %v", ev)
	}
}

func TestWSUnsubscribesOnClose(t *testing.T) {
	h := newHarness()
	srv := httptest.NewServer(Handler(h.hub, h.deps))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	readEvent(t, conn)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected client to unsubscribe, still %d", h.hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
