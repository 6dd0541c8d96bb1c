package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/farzinnasiri/the-council-sub001/internal/hub"
)

// WebSocketHandler streams roundtable change events to UI subscribers.
type WebSocketHandler struct {
	Hub *hub.Hub
}

func NewWebSocketHandler(h *hub.Hub) *WebSocketHandler {
	return &WebSocketHandler{Hub: h}
}

func (h *WebSocketHandler) Middleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	conversationID := c.Params("conversation")
	h.Hub.Subscribe(conversationID, c)
	defer func() {
		h.Hub.Unsubscribe(conversationID, c)
		_ = c.Close()
	}()

	// The feed is one-way; reads only detect the client going away.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
