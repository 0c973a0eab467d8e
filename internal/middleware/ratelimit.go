package middleware

import (
	"net/http"

	"github.com/dsh272k4/baomatweb/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit allows each client address a fixed number of requests per
// window. When the limiter cannot answer the request is refused.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Error("Rate limiter unavailable", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}
		c.Next()
	}
}
