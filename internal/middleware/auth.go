package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// TokenVerifier is the part of service.TokenService used by Authenticate.
type TokenVerifier interface {
	Verify(token string) (*models.Claims, error)
}

// Authenticate verifies the bearer token and stores its claims in the
// context. A missing token is 401, any other token failure is 403.
func Authenticate(tokens TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer <token>"})
			return
		}

		claims, err := tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, service.ErrMissingToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
				return
			}
			logger.Debug("Rejected bearer token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets the request through only when the authenticated claims
// carry exactly role. It must run after Authenticate.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c)
		if err := service.RequireRole(claims, role); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(c *gin.Context) (*models.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*models.Claims)
	return claims, ok && claims != nil
}
