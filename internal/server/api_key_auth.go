package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	obscontext "github.com/smallbiznis/rentflow/internal/observability/context"
)

type principalKey struct{}

// APIKeyRequired authenticates staff requests with a bearer API key.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			if errors.Is(err, apikeydomain.ErrInvalidKey) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx := context.WithValue(c.Request.Context(), principalKey{}, principal)
		ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeAPIKey, principal.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(ctx context.Context) (*apikeydomain.Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalKey{}).(*apikeydomain.Principal)
	return principal, ok && principal != nil
}
