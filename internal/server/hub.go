package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/meetscribe/internal/notify"
	"github.com/sjawhar/meetscribe/internal/session"
)

var (
	_ session.EventBroadcaster = (*Hub)(nil)
	_ notify.Publisher         = (*Hub)(nil)
)

// Hub fans session events out to every connected websocket. Slow clients
// miss events rather than block the orchestrator.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{}), now: time.Now}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSession(s session.Session) {
	h.broadcastEvent(SessionEvent{
		Event:   newEvent("session", h.now()),
		Session: viewOf(s),
	})
}

func (h *Hub) BroadcastTranscriptAppended(text string, source session.Source) {
	h.broadcastEvent(TranscriptAppendedEvent{
		Event:  newEvent("transcript_appended", h.now()),
		Text:   text,
		Source: source,
	})
}

func (h *Hub) BroadcastTick(elapsedSeconds int) {
	h.broadcastEvent(TickEvent{
		Event:          newEvent("tick", h.now()),
		ElapsedSeconds: elapsedSeconds,
	})
}

func (h *Hub) BroadcastNotification(n notify.Notification) {
	h.broadcastEvent(NotificationEvent{
		Event:        newEvent("notification", h.now()),
		Notification: n,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
