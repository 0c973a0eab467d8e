package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrVersionConflict is returned when a conditional update lost a race
	// against another writer of the same row.
	ErrVersionConflict = errors.New("user row was modified concurrently")
)

// UserRepository is the persistence collaborator for user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	CountByRole(ctx context.Context, role models.Role) (int, error)
	UpdateProfile(ctx context.Context, id int64, username string, role models.Role) error
	Delete(ctx context.Context, id int64) error
	// UpdateLoginState writes the login guard's fields only if the row is
	// still at expectedVersion, and bumps the version.
	UpdateLoginState(ctx context.Context, id, expectedVersion int64, state models.LoginState) error
	// SetLocked sets the permanent lock flag. Unlocking also clears the
	// failed-attempt counter and any temporary lockout.
	SetLocked(ctx context.Context, id int64, locked bool) error
	// UpdatePassword replaces the hash and clears the login state.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

const userColumns = `id, username, password_hash, role, is_locked, failed_login_attempts, lockout_until, lockout_level, version, created_at`

type userRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUserRepository(db *sqlx.DB, logger *zap.Logger) UserRepository {
	return &userRepository{db: db, logger: logger}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO users (username, password_hash, role, is_locked, failed_login_attempts, lockout_level, version, created_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?) RETURNING id`)

	err := r.db.QueryRowxContext(ctx, query, user.Username, user.PasswordHash, string(user.Role), user.IsLocked, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		r.logger.Error("Failed to create user", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		r.logger.Error("Failed to get user by ID", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		r.logger.Error("Failed to get user by username", zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context) ([]*models.User, error) {
	users := []*models.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return users, nil
}

func (r *userRepository) CountByRole(ctx context.Context, role models.Role) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ?`)
	if err := r.db.GetContext(ctx, &count, query, string(role)); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id int64, username string, role models.Role) error {
	query := r.db.Rebind(`UPDATE users SET username = ?, role = ?, version = version + 1 WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, username, string(role), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		r.logger.Error("Failed to update user", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result, ErrUserNotFound)
}

func (r *userRepository) Delete(ctx context.Context, id int64) error {
	query := r.db.Rebind(`DELETE FROM users WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete user", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result, ErrUserNotFound)
}

func (r *userRepository) UpdateLoginState(ctx context.Context, id, expectedVersion int64, state models.LoginState) error {
	query := r.db.Rebind(`UPDATE users
		SET failed_login_attempts = ?, lockout_until = ?, lockout_level = ?, version = version + 1
		WHERE id = ? AND version = ?`)

	result, err := r.db.ExecContext(ctx, query, state.FailedLoginAttempts, nullTime(state.LockoutUntil), state.LockoutLevel, id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update login state", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result, ErrVersionConflict)
}

func (r *userRepository) SetLocked(ctx context.Context, id int64, locked bool) error {
	query := `UPDATE users SET is_locked = ?, version = version + 1 WHERE id = ?`
	if !locked {
		query = `UPDATE users SET is_locked = ?, failed_login_attempts = 0, lockout_until = NULL, lockout_level = 0, version = version + 1 WHERE id = ?`
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), locked, id)
	if err != nil {
		r.logger.Error("Failed to update lock flag", zap.Int64("id", id), zap.Bool("locked", locked), zap.Error(err))
		return err
	}
	return expectOneRow(result, ErrUserNotFound)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	query := r.db.Rebind(`UPDATE users
		SET password_hash = ?, failed_login_attempts = 0, lockout_until = NULL, lockout_level = 0, version = version + 1
		WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		r.logger.Error("Failed to update password", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result, ErrUserNotFound)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
