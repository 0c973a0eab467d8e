package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dsh272k4/baomatweb/internal/audit"
	"github.com/dsh272k4/baomatweb/internal/config"
	"github.com/dsh272k4/baomatweb/internal/notify"
	"github.com/dsh272k4/baomatweb/internal/ratelimit"
	"github.com/dsh272k4/baomatweb/internal/repository"
	"github.com/dsh272k4/baomatweb/internal/server"
	"github.com/dsh272k4/baomatweb/internal/service"
	"github.com/dsh272k4/baomatweb/internal/waf"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		// The logger depends on the config, so fall back to a default one.
		zap.Must(zap.NewDevelopment()).Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	gin.SetMode(cfg.Server.Mode)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	users, closeDB := openUserRepository(cfg, logger)
	defer closeDB()

	auditLog, err := audit.NewLogger(cfg.Audit.Dir)
	if err != nil {
		logger.Fatal("Failed to open audit logs", zap.Error(err))
	}
	defer auditLog.Close()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Alerts.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID, logger)
		if err != nil {
			logger.Warn("Failed to initialize Telegram alerts, continuing without them", zap.Error(err))
		} else {
			go tg.Start(ctx)
			notifier = tg
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisURL != "" {
			redisLimiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
			if err != nil {
				logger.Fatal("Failed to initialize Redis rate limiter", zap.Error(err))
			}
			defer redisLimiter.Close()
			limiter = redisLimiter
		} else {
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
	}

	hasher, err := service.NewPasswordHasher(cfg.Security.PasswordHash, cfg.Security.BcryptCost)
	if err != nil {
		logger.Fatal("Failed to initialize password hasher", zap.Error(err))
	}
	tokens, err := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, nil)
	if err != nil {
		logger.Fatal("Failed to initialize token service", zap.Error(err))
	}
	guard, err := service.NewLoginGuard(users, hasher, tokens,
		service.LockPolicy{MaxAttempts: cfg.Security.MaxAttempts, Steps: cfg.Security.LockSteps},
		notifier, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize login guard", zap.Error(err))
	}

	authService := service.NewAuthService(users, hasher, guard, cfg.Security.MinPasswordLen, logger)
	adminService := service.NewAdminService(users, hasher, auditLog, cfg.Security.MinPasswordLen, logger)

	if _, err := adminService.EnsureAdmin(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword); err != nil {
		logger.Warn("Default administrator was not created", zap.Error(err))
	}

	srv := server.NewServer(server.Dependencies{
		Config:   cfg,
		Auth:     authService,
		Admin:    adminService,
		Tokens:   tokens,
		Filter:   waf.NewFilter(nil),
		Audit:    auditLog,
		Limiter:  limiter,
		Notifier: notifier,
		Logger:   logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	logger.Info("Application stopped.")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Log.Mode == "production" {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func openUserRepository(cfg *config.Config, logger *zap.Logger) (repository.UserRepository, func()) {
	switch cfg.Database.Type {
	case "memory":
		logger.Warn("Using in-memory user store; accounts are lost on restart")
		return repository.NewMemoryUserRepository(), func() {}
	case "postgres":
		db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := repository.MigrateDB(db, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		return repository.NewUserRepository(db, logger), func() { db.Close() }
	default:
		db, err := repository.NewSQLiteDB(cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		if err := repository.MigrateDB(db, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		return repository.NewUserRepository(db, logger), func() { db.Close() }
	}
}
