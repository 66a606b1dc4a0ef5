package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"opsync/internal/config"
	"opsync/internal/handlers"
	"opsync/internal/middleware"
)

func NewRouter(cfg config.Config, logger logrus.FieldLogger, h *handlers.SyncHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Device-ID", "X-Request-ID"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	sync := r.Group("/sync")
	sync.Use(middleware.Auth(cfg))
	{
		sync.POST("/push", h.Push)
		sync.GET("/pull", h.Pull)
		sync.POST("/operations/:id/acknowledge", h.Acknowledge)
	}
	return r
}
