package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/ws"
	"github.com/flowboard/hub/pkg/protocol"
)

// RelayKeyHeader carries the relay credential on HTTP relay requests.
const RelayKeyHeader = "X-Relay-Key"

// NotificationHandler is the HTTP side door to the backend relay: the same
// frames the backend channel accepts, one per request.
type NotificationHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(hub *ws.Hub, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{
		hub:    hub,
		logger: logger.Named("api"),
	}
}

// DeliverResponse reports whether a notification reached a live connection.
type DeliverResponse struct {
	Delivered bool `json:"delivered"`
}

// RequireRelayKey rejects requests without the configured relay key. The 401
// carries no body so it says nothing about why the key was refused.
func (h *NotificationHandler) RequireRelayKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.hub.CheckRelayKey(c.GetHeader(RelayKeyHeader)) {
			h.logger.Warn("rejecting relay request with invalid key", zap.String("remote", c.ClientIP()))
			h.hub.Metrics().Rejections.WithLabelValues(ws.RejectInvalidRelayKey).Inc()
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// Create handles POST /api/notifications - delivers one relay frame.
func (h *NotificationHandler) Create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read request body")
		return
	}

	delivered, err := h.hub.Relay(body)
	if errors.Is(err, protocol.ErrInvalidRelayFrame) {
		sendError(c, http.StatusBadRequest, "INVALID_RELAY_FRAME", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("relay failed", zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to relay notification")
		return
	}

	c.JSON(http.StatusAccepted, DeliverResponse{Delivered: delivered})
}

// Stats handles GET /api/stats - a snapshot of rooms and connections.
func (h *NotificationHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// RegisterRoutes registers the relay routes on a Gin router group.
func (h *NotificationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	relay := rg.Group("", h.RequireRelayKey())
	relay.POST("/notifications", h.Create)
	relay.GET("/stats", h.Stats)
}
