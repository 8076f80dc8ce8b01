package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentflow/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonSourceRate = "source-rate"

// WebhookRateLimit throttles gateway notifications per client address.
// Limiter errors let the request through so notifications are never lost to
// a redis outage.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		provider := strings.TrimSpace(c.Param("provider"))
		if provider == "" {
			provider = "jenga"
		}

		result, err := s.webhookLimiter.Allow(ctx, provider, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		}

		if !result.Allowed {
			logger.FromContext(ctx).Warn("webhook rate limit exceeded",
				zap.String("reason", rateLimitReasonSourceRate),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonSourceRate)

			c.Header("Retry-After", retryAfterSeconds(result.ResetAt))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonSourceRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func retryAfterSeconds(reset time.Time) string {
	wait := time.Until(reset).Seconds()
	if wait < 1 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(wait)))
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
