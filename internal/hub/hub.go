// Package hub fans roundtable state changes out to websocket subscribers,
// grouped by conversation.
package hub

import (
	"sync"

	"github.com/gofiber/websocket/v2"

	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
)

// Event is pushed to every subscriber of a conversation whenever its
// roundtable state changes.
type Event struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id"`
	State          *roundtable.State `json:"state,omitempty"`
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]struct{}
}

func New() *Hub {
	return &Hub{subs: map[string]map[*websocket.Conn]struct{}{}}
}

func (h *Hub) Subscribe(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.subs[conversationID]
	if !ok {
		conns = map[*websocket.Conn]struct{}{}
		h.subs[conversationID] = conns
	}
	conns[conn] = struct{}{}
}

func (h *Hub) Unsubscribe(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subs[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, conversationID)
		}
	}
}

// RoundChanged implements roundtable.Notifier.
func (h *Hub) RoundChanged(conversationID string, state *roundtable.State) {
	h.broadcast(Event{Type: "round_changed", ConversationID: conversationID, State: state})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs[ev.ConversationID]))
	for conn := range h.subs[ev.ConversationID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteJSON(ev)
	}
}
