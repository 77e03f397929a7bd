package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ojobatch/ojo/pkg/database"
	"github.com/ojobatch/ojo/pkg/services"
)

// writeServiceError maps service-layer errors onto HTTP responses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, services.ErrNoArtifacts):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrInvalidModule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTaskRunning),
		errors.Is(err, services.ErrRetryInFlight),
		errors.Is(err, services.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected service error", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
