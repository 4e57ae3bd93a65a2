package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/ws"
)

// RouterConfig holds what the HTTP surface is built from.
type RouterConfig struct {
	Hub            *ws.Hub
	WSHandler      *ws.Handler
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the gin engine: the upgrade endpoint, the relay API,
// health and metrics.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(Recovery(logger), Logger(logger), CORS(cfg.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	NewWebSocketHandler(cfg.WSHandler).RegisterRoutes(r)

	api := r.Group("/api")
	{
		NewNotificationHandler(cfg.Hub, logger).RegisterRoutes(api)
	}

	return r
}
