package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWebSocket upgrades the connection and hands it to the
// ConnectionManager, which blocks until the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedWSOrigins
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}
	s.conns.HandleConnection(c.Request.Context(), conn)
}
