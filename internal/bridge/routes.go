package bridge

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketnotify/internal/middleware"
)

// RouterConfig holds the HTTP settings of the bridge.
type RouterConfig struct {
	Token          string
	AllowedOrigins []string
}

// NewRouter builds the bridge engine.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ErrorLogger(logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.BridgeTokenAuth(cfg.Token, logger))
	RegisterRoutes(v1, h)

	return r
}

// RegisterRoutes registers all bridge routes
func RegisterRoutes(v1 *gin.RouterGroup, h *Handler) {
	notifGroup := v1.Group("/notifications")
	{
		notifGroup.GET("", h.GetNotifications)
		notifGroup.GET("/unread-count", h.GetUnreadCount)
		notifGroup.PATCH("/:id/read", h.MarkAsRead)
		notifGroup.POST("/read-all", h.MarkAllAsRead)
		notifGroup.POST("/:id/open", h.Open)
	}

	toastGroup := v1.Group("/toasts")
	{
		toastGroup.GET("", h.GetToasts)
		toastGroup.POST("/consume", h.ConsumeToasts)
		toastGroup.DELETE("/:id", h.DismissToast)
	}

	panelGroup := v1.Group("/panel")
	{
		panelGroup.POST("/open", h.OpenPanel)
		panelGroup.POST("/close", h.ClosePanel)
	}

	v1.GET("/stream", h.Stream)
}
