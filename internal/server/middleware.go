package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// PublicRateLimit throttles the unauthenticated invoice endpoints per
// organization and client IP. When no limiter is configured the middleware
// is a no-op.
func (s *Server) PublicRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.publicLimiter == nil || !s.publicLimiter.Enabled() {
			c.Next()
			return
		}

		orgID := strings.TrimSpace(c.Param("org_id"))
		endpoint := c.FullPath()

		result, err := s.publicLimiter.Allow(c.Request.Context(), orgID, c.ClientIP())
		if err != nil || result == nil {
			c.Next()
			return
		}

		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
		}

		if !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), orgID, endpoint, "bucket_exhausted")
			}
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), orgID, endpoint)
		}
		c.Next()
	}
}

func respondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
