package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dsh272k4/baomatweb/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError translates a service error into a status and JSON body.
// Unexpected errors are logged and reported without detail.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var locked *service.AccountLockedError
	switch {
	case errors.As(err, &locked):
		body := gin.H{"error": "Account is locked"}
		if locked.Permanent {
			body["error"] = "Account has been locked by an administrator"
		} else {
			body["remaining_seconds"] = locked.RemainingSeconds()
			body["lockout_until"] = locked.Until
		}
		c.JSON(http.StatusForbidden, body)
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
	case errors.Is(err, service.ErrDuplicateUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
	case errors.Is(err, service.ErrSelfAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
	case errors.Is(err, service.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// validationMessage strips the sentinel prefix from a wrapped ErrValidation.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
	if msg == "" {
		return "Invalid request"
	}
	return msg
}

// badRequest reports an unbindable body. Binding detail stays in the logs.
func badRequest(c *gin.Context, logger *zap.Logger, err error) {
	logger.Debug("Invalid request body",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}
