package devserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketnotify/internal/pkg/jwt"
)

// Server bundles the emulated backend.
type Server struct {
	Repo    *Repository
	Hub     *Hub
	Service *Service
	Router  *gin.Engine
}

// New wires the backend on an already migrated database.
func New(db *gorm.DB, jwtService *jwt.Service, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo := NewRepository(db)
	hub := NewHub(nil, logger.Named("hub"))
	svc := NewService(repo, hub, jwtService, opts, logger)
	h := NewHandler(svc, hub, logger)

	return &Server{
		Repo:    repo,
		Hub:     hub,
		Service: svc,
		Router:  NewRouter(h, jwtService, logger),
	}
}
