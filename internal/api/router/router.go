package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vgrab/vgrab/internal/api/handlers"
	"github.com/vgrab/vgrab/internal/api/middleware"
	"github.com/vgrab/vgrab/internal/config"
)

// Router is the ops HTTP surface: health probes and the queue status view.
// It carries no user-facing functionality.
type Router struct {
	engine *gin.Engine
	server *http.Server
	config *config.Config
}

func NewRouter(cfg *config.Config, healthHandler *handlers.HealthHandler, queueHandler *handlers.QueueHandler) *Router {
	if cfg.Server.Host == "0.0.0.0" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationIDMiddleware())

	engine.GET("/health", healthHandler.Health)
	engine.GET("/ready", healthHandler.Readiness)
	engine.GET("/live", healthHandler.Liveness)
	engine.GET("/status", queueHandler.Status)

	return &Router{
		engine: engine,
		config: cfg,
	}
}

func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:              r.config.Server.Host + ":" + r.config.Server.Port,
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
