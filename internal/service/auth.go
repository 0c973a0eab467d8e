package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/repository"

	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	// Me resolves the account behind verified token claims.
	Me(ctx context.Context, claims *models.Claims) (*models.User, error)
}

type authService struct {
	users          repository.UserRepository
	hasher         *PasswordHasher
	guard          *LoginGuard
	minPasswordLen int
	logger         *zap.Logger
}

func NewAuthService(users repository.UserRepository, hasher *PasswordHasher, guard *LoginGuard, minPasswordLen int, logger *zap.Logger) AuthService {
	return &authService{
		users:          users,
		hasher:         hasher,
		guard:          guard,
		minPasswordLen: minPasswordLen,
		logger:         logger,
	}
}

func (s *authService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if err := validateCredentials(username, password, s.minPasswordLen); err != nil {
		return nil, err
	}

	user, err := createUser(ctx, s.users, s.hasher, username, password, models.RoleUser)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

func (s *authService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	return s.guard.AttemptLogin(ctx, username, password)
}

func (s *authService) Me(ctx context.Context, claims *models.Claims) (*models.User, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		// The account was deleted after the token was issued.
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return validationError("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}
	return nil
}

func validatePassword(password string, minLen int) error {
	if len([]rune(password)) < minLen {
		return validationError("password must be at least %d characters", minLen)
	}
	return nil
}

func validateCredentials(username, password string, minPasswordLen int) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	return validatePassword(password, minPasswordLen)
}

func createUser(ctx context.Context, users repository.UserRepository, hasher *PasswordHasher, username, password string, role models.Role) (*models.User, error) {
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}
