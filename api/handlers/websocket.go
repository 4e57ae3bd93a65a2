package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/flowboard/hub/internal/ws"
)

// WebSocketHandler exposes the hub's upgrade endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Connect handles GET /ws (and /). All three channels share the endpoint;
// the channel query parameter selects the protocol. Handshake failures are
// reported on the socket, so the handler never writes an HTTP error after
// a successful upgrade.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error
		c.Abort()
	}
}

// RegisterRoutes registers the WebSocket routes.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
	r.GET("/", h.Connect)
}
