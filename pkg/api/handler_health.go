package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ojobatch/ojo/pkg/version"
)

// handleHealth reports pool, database, and WebSocket health.
func (s *Server) handleHealth(c *gin.Context) {
	health := s.pool.Health()

	statusText := "healthy"
	statusCode := http.StatusOK
	if !health.IsHealthy {
		statusText = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":                statusText,
		"version":               version.Full(),
		"pool":                  health,
		"websocket_connections": s.conns.ActiveConnections(),
	})
}

// handleListAdapters reports registered adapters and their health.
func (s *Server) handleListAdapters(c *gin.Context) {
	type adapterInfo struct {
		Name         string   `json:"name"`
		Capabilities []string `json:"capabilities"`
		Healthy      bool     `json:"healthy"`
		Status       string   `json:"status"`
		Message      string   `json:"message,omitempty"`
	}

	infos := make([]adapterInfo, 0)
	for _, name := range s.registry.Names() {
		a, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		h := a.HealthCheck(c.Request.Context())
		caps := make([]string, 0, len(a.Capabilities()))
		for _, cap := range a.Capabilities() {
			caps = append(caps, string(cap))
		}
		infos = append(infos, adapterInfo{
			Name:         name,
			Capabilities: caps,
			Healthy:      h.Healthy,
			Status:       string(h.Status),
			Message:      h.Message,
		})
	}
	c.JSON(http.StatusOK, gin.H{"adapters": infos})
}
