// Package api wires the gin HTTP surface: the client-facing Messages API
// (spec.md §4.G) and the admin/management surface (SPEC_FULL.md §4.L),
// grounded on the teacher's internal/api/server.go route-group layout and
// constant-time bearer/password comparison.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kiroproxy/kiroproxy/internal/config"
	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/kiroproxy/kiroproxy/internal/dispatcher"
	"github.com/kiroproxy/kiroproxy/internal/flow"
	"github.com/kiroproxy/kiroproxy/internal/logging"
	"github.com/kiroproxy/kiroproxy/internal/metrics"
)

// Server owns the gin engine and the collaborators the HTTP handlers need.
type Server struct {
	engine     *gin.Engine
	cfg        *config.Config
	store      *credential.Store
	dispatcher *dispatcher.Dispatcher
	flow       *flow.Recorder
}

// NewServer builds the gin engine and registers every route.
func NewServer(cfg *config.Config, store *credential.Store, disp *dispatcher.Dispatcher, rec *flow.Recorder) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinLogger(), metrics.Middleware())

	s := &Server{engine: engine, cfg: cfg, store: store, dispatcher: disp, flow: rec}
	s.routes()
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for http.Server.Handler.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", metrics.Handler())

	v1 := s.engine.Group("/v1")
	v1.Use(s.apiKeyAuth())
	v1.POST("/messages", s.handleMessages)
	v1.GET("/models", s.handleModels)

	if s.cfg.AdminToken != "" {
		admin := s.engine.Group("/admin")
		admin.Use(s.adminAuth())
		admin.GET("/credentials", s.listCredentials)
		admin.POST("/credentials", s.addCredential)
		admin.PATCH("/credentials/:id", s.patchCredential)
		admin.DELETE("/credentials/:id", s.deleteCredential)
		admin.POST("/credentials/:id/enable", s.enableCredential)
		admin.POST("/credentials/:id/disable", s.disableCredential)
		admin.GET("/flows", s.listFlows)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
