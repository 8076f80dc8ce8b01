package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

// CreateAPIKey returns the raw key once; only its hash is stored.
func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		s.auditSvc.AuditLog(c.Request.Context(), "api_key.created", "api_key", resp.KeyID, map[string]any{
			"name": strings.TrimSpace(req.Name),
			"role": strings.TrimSpace(req.Role),
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		s.auditSvc.AuditLog(c.Request.Context(), "api_key.revoked", "api_key", keyID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
