package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/repository"

	"go.uber.org/zap"
)

// AuditRecorder receives one line per administrative action.
type AuditRecorder interface {
	AdminAction(actor, action, target string)
}

// Actor identifies the administrator performing an operation.
type Actor struct {
	ID       int64
	Username string
}

func ActorFromClaims(claims *models.Claims) Actor {
	return Actor{ID: claims.UserID, Username: claims.Username}
}

type AdminService interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateUser(ctx context.Context, actor Actor, username, password, role string) (*models.User, error)
	UpdateUser(ctx context.Context, actor Actor, id int64, username, role string) (*models.User, error)
	DeleteUser(ctx context.Context, actor Actor, id int64) error
	// SetLocked sets or clears the permanent lock. Unlocking also clears the
	// failed-login counter and any temporary lockout.
	SetLocked(ctx context.Context, actor Actor, id int64, locked bool) error
	// ResetPassword replaces the password and clears the login state.
	ResetPassword(ctx context.Context, actor Actor, id int64, newPassword string) error
	// EnsureAdmin creates the bootstrap administrator when no admin exists.
	EnsureAdmin(ctx context.Context, username, password string) (bool, error)
}

type adminService struct {
	users          repository.UserRepository
	hasher         *PasswordHasher
	audit          AuditRecorder
	minPasswordLen int
	logger         *zap.Logger
}

func NewAdminService(users repository.UserRepository, hasher *PasswordHasher, audit AuditRecorder, minPasswordLen int, logger *zap.Logger) AdminService {
	return &adminService{
		users:          users,
		hasher:         hasher,
		audit:          audit,
		minPasswordLen: minPasswordLen,
		logger:         logger,
	}
}

func (s *adminService) ListUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *adminService) CreateUser(ctx context.Context, actor Actor, username, password, role string) (*models.User, error) {
	r, err := models.ParseRole(role)
	if err != nil {
		return nil, validationError("%v", err)
	}
	if err := validateCredentials(username, password, s.minPasswordLen); err != nil {
		return nil, err
	}

	user, err := createUser(ctx, s.users, s.hasher, username, password, r)
	if err != nil {
		return nil, err
	}

	s.audit.AdminAction(actor.Username, "create", describe(user))
	return user, nil
}

func (s *adminService) UpdateUser(ctx context.Context, actor Actor, id int64, username, role string) (*models.User, error) {
	r, err := models.ParseRole(role)
	if err != nil {
		return nil, validationError("%v", err)
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if id == actor.ID && r != models.RoleAdmin {
		return nil, ErrSelfAction
	}

	if err := s.users.UpdateProfile(ctx, id, username, r); err != nil {
		return nil, mapRepoError(err)
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.audit.AdminAction(actor.Username, "update", describe(user)+" role="+string(user.Role))
	return user, nil
}

func (s *adminService) DeleteUser(ctx context.Context, actor Actor, id int64) error {
	if id == actor.ID {
		return ErrSelfAction
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return mapRepoError(err)
	}

	s.audit.AdminAction(actor.Username, "delete", describe(user))
	return nil
}

func (s *adminService) SetLocked(ctx context.Context, actor Actor, id int64, locked bool) error {
	if locked && id == actor.ID {
		return ErrSelfAction
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.users.SetLocked(ctx, id, locked); err != nil {
		return mapRepoError(err)
	}

	action := "unlock"
	if locked {
		action = "lock"
	}
	s.audit.AdminAction(actor.Username, action, describe(user))
	return nil
}

func (s *adminService) ResetPassword(ctx context.Context, actor Actor, id int64, newPassword string) error {
	if err := validatePassword(newPassword, s.minPasswordLen); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return mapRepoError(err)
	}

	s.audit.AdminAction(actor.Username, "reset-password", describe(user))
	return nil
}

func (s *adminService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	count, err := s.users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to count administrators: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if password == "" {
		return false, errors.New("no administrator exists and no bootstrap password is configured")
	}
	if err := validateCredentials(username, password, s.minPasswordLen); err != nil {
		return false, fmt.Errorf("bootstrap administrator: %w", err)
	}

	user, err := createUser(ctx, s.users, s.hasher, username, password, models.RoleAdmin)
	if err != nil {
		return false, err
	}

	s.logger.Info("Default administrator created", zap.String("username", user.Username))
	s.audit.AdminAction("system", "create", describe(user))
	return true, nil
}

func describe(user *models.User) string {
	return fmt.Sprintf("user %s (ID %d)", user.Username, user.ID)
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrDuplicateUsername):
		return ErrDuplicateUsername
	default:
		return err
	}
}
