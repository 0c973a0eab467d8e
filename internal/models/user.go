package models

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a raw string into a Role. An empty string maps to RoleUser.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleUser, nil
	}
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

type User struct {
	ID                  int64      `db:"id" json:"id"`
	Username            string     `db:"username" json:"username"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	Role                Role       `db:"role" json:"role"`
	IsLocked            bool       `db:"is_locked" json:"is_locked"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockoutUntil        *time.Time `db:"lockout_until" json:"lockout_until,omitempty"`
	LockoutLevel        int        `db:"lockout_level" json:"-"`
	Version             int64      `db:"version" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// LoginState is the part of a user row owned by the login guard.
type LoginState struct {
	FailedLoginAttempts int
	LockoutUntil        *time.Time
	LockoutLevel        int
}

// State returns the current login state of the user.
func (u *User) State() LoginState {
	return LoginState{
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockoutUntil:        u.LockoutUntil,
		LockoutLevel:        u.LockoutLevel,
	}
}

// TemporarilyLocked reports whether a temporary lockout is active at now.
func (u *User) TemporarilyLocked(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// Claims defines the structure of the JWT claims.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}
