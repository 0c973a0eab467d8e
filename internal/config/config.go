package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxFailedAttempts is the ceiling of the stored failed-login counter.
const MaxFailedAttempts = 5

// DefaultLockSteps is the escalating temporary lockout schedule.
var DefaultLockSteps = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

// Config holds the application's configuration. It is built once at startup
// and never mutated afterwards.
type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		Mode        string   `yaml:"mode"`
		CORSOrigins []string `yaml:"cors_origins"`
		// TrustedProxies lists the proxy addresses or CIDRs whose
		// X-Forwarded-For header is believed. Empty means none.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Database struct {
		Type string `yaml:"type"` // "postgres", "sqlite" or "memory"
		URL  string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Security struct {
		PasswordHash   string          `yaml:"password_hash"` // "argon2id" or "bcrypt"
		BcryptCost     int             `yaml:"bcrypt_cost"`
		MaxAttempts    int             `yaml:"max_attempts"`
		LockSteps      []time.Duration `yaml:"lock_steps"`
		MinPasswordLen int             `yaml:"min_password_length"`
	} `yaml:"security"`
	RateLimit struct {
		Enabled  bool          `yaml:"enabled"`
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
		RedisURL string        `yaml:"redis_url"`
	} `yaml:"rate_limit"`
	Audit struct {
		Dir string `yaml:"dir"`
	} `yaml:"audit"`
	Log struct {
		Mode  string `yaml:"mode"` // "development" or "production"
		Level string `yaml:"level"`
	} `yaml:"log"`
	Bootstrap struct {
		AdminUsername string `yaml:"admin_username"`
		AdminPassword string `yaml:"admin_password"`
	} `yaml:"bootstrap"`
	Alerts struct {
		Enabled          bool   `yaml:"enabled"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
	} `yaml:"alerts"`
}

// LoadConfig reads configuration from the specified YAML file, applies
// environment overrides and defaults, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is fine; the process environment is used as is.
	_ = godotenv.Load()

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Auth.JWTSecret = os.ExpandEnv(c.Auth.JWTSecret)
	c.Bootstrap.AdminPassword = os.ExpandEnv(c.Bootstrap.AdminPassword)
	c.Alerts.TelegramBotToken = os.ExpandEnv(c.Alerts.TelegramBotToken)
	c.RateLimit.RedisURL = os.ExpandEnv(c.RateLimit.RedisURL)

	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = ttl
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "3001"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Type == "sqlite" {
		c.Database.URL = "./data/accounts.db"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "baomatweb"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Security.PasswordHash == "" {
		c.Security.PasswordHash = "argon2id"
	}
	if c.Security.BcryptCost == 0 {
		c.Security.BcryptCost = 10
	}
	if c.Security.MaxAttempts == 0 {
		c.Security.MaxAttempts = MaxFailedAttempts
	}
	if len(c.Security.LockSteps) == 0 {
		c.Security.LockSteps = append([]time.Duration(nil), DefaultLockSteps...)
	}
	if c.Security.MinPasswordLen == 0 {
		c.Security.MinPasswordLen = 6
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "logs"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Bootstrap.AdminUsername == "" {
		c.Bootstrap.AdminUsername = "admin"
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unsupported server.mode %q", c.Server.Mode)
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid server.trusted_proxies entry %q", proxy)
		}
	}
	switch c.Database.Type {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	switch c.Security.PasswordHash {
	case "argon2id", "bcrypt":
	default:
		return fmt.Errorf("unsupported security.password_hash %q", c.Security.PasswordHash)
	}
	if c.Security.MaxAttempts < 1 || c.Security.MaxAttempts > MaxFailedAttempts {
		return fmt.Errorf("security.max_attempts must be between 1 and %d", MaxFailedAttempts)
	}
	for i, step := range c.Security.LockSteps {
		if step <= 0 {
			return fmt.Errorf("security.lock_steps[%d] must be positive", i)
		}
		if i > 0 && step < c.Security.LockSteps[i-1] {
			return fmt.Errorf("security.lock_steps must not decrease (index %d)", i)
		}
	}
	if c.Alerts.Enabled && (c.Alerts.TelegramBotToken == "" || c.Alerts.TelegramChatID == 0) {
		return errors.New("alerts.enabled requires telegram_bot_token and telegram_chat_id")
	}
	return nil
}
