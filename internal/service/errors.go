package service

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("insufficient role")
	ErrAccountLocked      = errors.New("account locked")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrSelfAction         = errors.New("administrators cannot apply this action to their own account")
)

// validationError wraps ErrValidation with a caller-facing message.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// AccountLockedError is returned when a login is refused because the account
// is locked. It matches ErrAccountLocked with errors.Is.
type AccountLockedError struct {
	Permanent bool
	Until     time.Time
	Remaining time.Duration
}

func (e *AccountLockedError) Error() string {
	if e.Permanent {
		return "account locked by administrator"
	}
	return fmt.Sprintf("account temporarily locked, retry in %d seconds", e.RemainingSeconds())
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RemainingSeconds rounds the remaining lockout up to whole seconds.
func (e *AccountLockedError) RemainingSeconds() int64 {
	if e.Permanent || e.Remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(e.Remaining.Seconds()))
}
