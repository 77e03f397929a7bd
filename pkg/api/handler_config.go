package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ojobatch/ojo/pkg/services"
)

// SetAdapterConfigRequest is the body of PUT /api/config/adapters/:name.
type SetAdapterConfigRequest struct {
	Values map[string]string `json:"values" binding:"required"`
}

// SetLLMKeyRequest is the body of PUT /api/config/llm/:provider/key.
type SetLLMKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

func (s *Server) handleSetAdapterConfig(c *gin.Context) {
	var req SetAdapterConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := caller(c)

	if err := s.configs.SetAdapterConfig(c.Request.Context(), userID, c.Param("name"), req.Values); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) handleGetAdapterConfig(c *gin.Context) {
	userID, _ := caller(c)

	values, err := s.configs.AdapterConfig(c.Request.Context(), userID, c.Param("name"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	// Sensitive values are never echoed back, only their presence.
	redacted := make(map[string]string, len(values))
	for key, value := range values {
		if services.IsSensitiveKey(key) {
			if value != "" {
				redacted[key] = "********"
			}
			continue
		}
		redacted[key] = value
	}
	c.JSON(http.StatusOK, gin.H{"adapter": c.Param("name"), "values": redacted})
}

func (s *Server) handleDeleteAdapterConfig(c *gin.Context) {
	userID, _ := caller(c)

	if err := s.configs.DeleteAdapterConfig(c.Request.Context(), userID, c.Param("name")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleSetLLMKey(c *gin.Context) {
	var req SetLLMKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := caller(c)

	if err := s.configs.SetLLMKey(c.Request.Context(), userID, c.Param("provider"), req.APIKey); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
