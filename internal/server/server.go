package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dsh272k4/baomatweb/internal/config"
	"github.com/dsh272k4/baomatweb/internal/handler"
	"github.com/dsh272k4/baomatweb/internal/middleware"
	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/notify"
	"github.com/dsh272k4/baomatweb/internal/ratelimit"
	"github.com/dsh272k4/baomatweb/internal/service"
	"github.com/dsh272k4/baomatweb/internal/waf"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// AuditLog records blocked requests and serves both audit logs.
type AuditLog interface {
	middleware.BlockRecorder
	handler.LogReader
}

// Dependencies are the collaborators the HTTP layer is built from.
// Limiter may be nil to disable rate limiting.
type Dependencies struct {
	Config   *config.Config
	Auth     service.AuthService
	Admin    service.AdminService
	Tokens   middleware.TokenVerifier
	Filter   *waf.Filter
	Audit    AuditLog
	Limiter  ratelimit.Limiter
	Notifier notify.Notifier
	Logger   *zap.Logger
}

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(deps Dependencies) *Server {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	router := gin.New()
	// With no trusted proxies gin keys clients on the peer address only.
	var proxies []string
	if len(deps.Config.Server.TrustedProxies) > 0 {
		proxies = deps.Config.Server.TrustedProxies
	}
	if err := router.SetTrustedProxies(proxies); err != nil {
		deps.Logger.Error("Invalid trusted proxies, ignoring forwarding headers", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	s := &Server{
		router: router,
		cfg:    deps.Config,
		logger: deps.Logger,
	}

	s.setupMiddleware(deps)
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupMiddleware(deps Dependencies) {
	s.router.Use(gin.Recovery(), middleware.AccessLog(s.logger))
	if deps.Limiter != nil {
		s.router.Use(middleware.RateLimit(deps.Limiter, s.logger))
	}
	s.router.Use(
		middleware.RequestID(),
		middleware.SecurityHeaders(),
		cors.New(corsConfig(s.cfg.Server.CORSOrigins)),
		middleware.WAF(deps.Filter, deps.Audit, deps.Notifier, s.logger),
	)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) setupRoutes(deps Dependencies) {
	authHandler := handler.NewAuthHandler(deps.Auth, s.logger)
	adminHandler := handler.NewAdminHandler(deps.Admin, deps.Audit, s.logger)
	authenticate := middleware.Authenticate(deps.Tokens, s.logger)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	authGroup := s.router.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authenticate, authHandler.Me)

	adminGroup := s.router.Group("/admin")
	adminGroup.Use(authenticate, middleware.RequireRole(models.RoleAdmin))
	{
		adminGroup.GET("/users", adminHandler.ListUsers)
		adminGroup.POST("/users", adminHandler.CreateUser)
		adminGroup.PUT("/users/:id", adminHandler.UpdateUser)
		adminGroup.DELETE("/users/:id", adminHandler.DeleteUser)
		adminGroup.PUT("/users/:id/lock", adminHandler.SetLocked)
		adminGroup.PUT("/users/:id/reset-password", adminHandler.ResetPassword)
		adminGroup.GET("/logs", adminHandler.Logs)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
