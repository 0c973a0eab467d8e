package handler

import (
	"net/http"
	"strconv"

	"github.com/dsh272k4/baomatweb/internal/middleware"
	"github.com/dsh272k4/baomatweb/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LogReader exposes the raw audit logs.
type LogReader interface {
	ReadAdminLog() (string, error)
	ReadSecurityLog() (string, error)
}

type AdminHandler interface {
	ListUsers(c *gin.Context)
	CreateUser(c *gin.Context)
	UpdateUser(c *gin.Context)
	DeleteUser(c *gin.Context)
	SetLocked(c *gin.Context)
	ResetPassword(c *gin.Context)
	Logs(c *gin.Context)
}

type adminHandler struct {
	adminService service.AdminService
	logs         LogReader
	logger       *zap.Logger
}

func NewAdminHandler(adminService service.AdminService, logs LogReader, logger *zap.Logger) AdminHandler {
	return &adminHandler{adminService: adminService, logs: logs, logger: logger}
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type UpdateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type LockRequest struct {
	Lock *bool `json:"lock" binding:"required"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (h *adminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *adminHandler) CreateUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	user, err := h.adminService.CreateUser(c.Request.Context(), actor, req.Username, req.Password, req.Role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user": user})
}

func (h *adminHandler) UpdateUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	user, err := h.adminService.UpdateUser(c.Request.Context(), actor, id, req.Username, req.Role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User updated successfully", "user": user})
}

func (h *adminHandler) DeleteUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}

	if err := h.adminService.DeleteUser(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *adminHandler) SetLocked(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}
	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	if err := h.adminService.SetLocked(c.Request.Context(), actor, id, *req.Lock); err != nil {
		respondError(c, h.logger, err)
		return
	}

	message := "User unlocked successfully"
	if *req.Lock {
		message = "User locked successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *adminHandler) ResetPassword(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	if err := h.adminService.ResetPassword(c.Request.Context(), actor, id, req.NewPassword); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successfully"})
}

func (h *adminHandler) Logs(c *gin.Context) {
	wafLog, err := h.logs.ReadSecurityLog()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	adminLog, err := h.logs.ReadAdminLog()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wafLog": wafLog, "adminLog": adminLog})
}

func (h *adminHandler) actor(c *gin.Context) (service.Actor, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
		return service.Actor{}, false
	}
	return service.ActorFromClaims(claims), true
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}
