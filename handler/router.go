package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/middleware"
)

// NewRouter assembles the middleware chain and every route
func NewRouter(cfg *config.Config, docs *DocumentHandler, health *HealthHandler) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS.Origins))
	router.Use(middleware.CacheControl())
	router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))

	router.GET("/", health.Info)
	router.GET("/api", health.Info)
	router.Static("/outputs", cfg.Storage.OutputDir)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", health.Health)
		v1.POST("/upload", docs.Upload)
		v1.GET("/tasks", docs.ListTasks)
		v1.GET("/tasks/:id", docs.GetTask)
		v1.DELETE("/tasks/:id", docs.DeleteTask)
	}

	return router
}
