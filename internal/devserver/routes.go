package devserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketnotify/internal/middleware"
	"marketnotify/internal/pkg/jwt"
)

// NewRouter builds the devserver engine.
func NewRouter(h *Handler, jwtService *jwt.Service, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ErrorLogger(logger))

	auth := middleware.JWTAuth(jwtService)

	r.GET("/ws", auth, h.ServeWS)

	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(auth)
	RegisterRoutes(protected, h)

	return r
}

// RegisterRoutes registers all authenticated devserver routes
func RegisterRoutes(protected *gin.RouterGroup, h *Handler) {
	notifGroup := protected.Group("/notifications")
	{
		notifGroup.GET("", h.GetNotifications)
		notifGroup.GET("/unread-count", h.GetUnreadCount)
		notifGroup.PATCH("/:id/read", h.MarkAsRead)
		notifGroup.PATCH("/read-all", h.MarkAllAsRead)
	}

	protected.GET("/products/search", h.SearchProducts)

	devGroup := protected.Group("/dev")
	devGroup.Use(middleware.AdminOnly())
	{
		devGroup.POST("/notifications", h.CreateNotification)
		devGroup.POST("/fail-mark-read", h.SetFailMarkRead)
		devGroup.POST("/disconnect/:user_id", h.Disconnect)
	}
}
