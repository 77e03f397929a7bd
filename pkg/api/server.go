// Package api exposes the HTTP surface: task CRUD, workspace downloads,
// adapter configuration, health, metrics, and the WebSocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/config"
	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/events"
	"github.com/ojobatch/ojo/pkg/queue"
	"github.com/ojobatch/ojo/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	tasks    *services.TaskService
	configs  *services.ConfigService
	users    *database.UserStore
	pool     *queue.WorkerPool
	registry *adapter.Registry
	conns    *events.ConnectionManager

	httpSrv *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.ServerConfig, tasks *services.TaskService, configs *services.ConfigService,
	users *database.UserStore, pool *queue.WorkerPool, registry *adapter.Registry,
	conns *events.ConnectionManager,
) *Server {
	return &Server{
		cfg:      cfg,
		tasks:    tasks,
		configs:  configs,
		users:    users,
		pool:     pool,
		registry: registry,
		conns:    conns,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api", s.identity())
	{
		api.POST("/tasks", s.handleCreateTasks)
		api.POST("/tasks/manual", s.handleCreateManualTask)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/tasks/:id/logs", s.handleGetTaskLogs)
		api.GET("/tasks/:id/download", s.handleDownloadWorkspace)
		api.POST("/tasks/:id/retry", s.handleRetryTask)
		api.POST("/tasks/:id/cancel", s.handleCancelTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)

		api.GET("/adapters", s.handleListAdapters)
		api.GET("/config/adapters/:name", s.handleGetAdapterConfig)
		api.PUT("/config/adapters/:name", s.handleSetAdapterConfig)
		api.DELETE("/config/adapters/:name", s.handleDeleteAdapterConfig)
		api.PUT("/config/llm/:provider/key", s.handleSetLLMKey)
	}
	return r
}

// Start runs the HTTP server. Blocks until the listener stops.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
