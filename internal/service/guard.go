package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/notify"
	"github.com/dsh272k4/baomatweb/internal/repository"

	"go.uber.org/zap"
)

// maxStateRetries bounds the compare-and-swap loop on the login state.
const maxStateRetries = 5

var errStateContention = errors.New("login state kept changing concurrently")

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

// LockPolicy is the failed-login threshold and the escalating lockout
// schedule applied once the threshold is reached.
type LockPolicy struct {
	MaxAttempts int
	Steps       []time.Duration
}

// step returns the lockout duration for the given escalation level. The
// schedule saturates at its last entry.
func (p LockPolicy) step(level int) time.Duration {
	if level >= len(p.Steps) {
		level = len(p.Steps) - 1
	}
	return p.Steps[level]
}

// LoginGuard authenticates username/password pairs and maintains the
// per-account failed-login counter and temporary lockout.
type LoginGuard struct {
	users    repository.UserRepository
	hasher   *PasswordHasher
	tokens   *TokenService
	policy   LockPolicy
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewLoginGuard(
	users repository.UserRepository,
	hasher *PasswordHasher,
	tokens *TokenService,
	policy LockPolicy,
	notifier notify.Notifier,
	logger *zap.Logger,
	now func() time.Time,
) (*LoginGuard, error) {
	if policy.MaxAttempts < 1 || len(policy.Steps) == 0 {
		return nil, errors.New("lock policy needs a positive threshold and at least one step")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &LoginGuard{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		policy:   policy,
		notifier: notifier,
		logger:   logger,
		now:      now,
	}, nil
}

// AttemptLogin checks the credentials against the stored account and updates
// its login state. Errors are ErrInvalidCredentials, *AccountLockedError or
// an internal error.
func (g *LoginGuard) AttemptLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	var verdict passwordVerdict
	for i := 0; i < maxStateRetries; i++ {
		result, err := g.attempt(ctx, username, password, &verdict)
		if errors.Is(err, repository.ErrVersionConflict) {
			g.logger.Debug("Login state changed concurrently, retrying",
				zap.String("username", username), zap.Int("retry", i+1))
			continue
		}
		return result, err
	}

	g.logger.Error("Giving up on login state update", zap.String("username", username))
	return nil, errStateContention
}

// passwordVerdict caches the slow-hash comparison across retries of the
// same login, as long as the stored hash is unchanged.
type passwordVerdict struct {
	hash  string
	match bool
	valid bool
}

func (g *LoginGuard) checkPassword(v *passwordVerdict, hash, password string) (bool, error) {
	if v.valid && v.hash == hash {
		return v.match, nil
	}
	match, err := g.hasher.Compare(hash, password)
	if err != nil {
		return false, err
	}
	*v = passwordVerdict{hash: hash, match: match, valid: true}
	return match, nil
}

func (g *LoginGuard) attempt(ctx context.Context, username, password string, verdict *passwordVerdict) (*LoginResult, error) {
	user, err := g.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		g.burnHash(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.IsLocked {
		g.logger.Info("Login refused for administratively locked account", zap.Int64("user_id", user.ID))
		return nil, &AccountLockedError{Permanent: true}
	}

	now := g.now()
	wasLocked := user.TemporarilyLocked(now)

	match, err := g.checkPassword(verdict, user.PasswordHash, password)
	if err != nil {
		g.logger.Error("Failed to verify password", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	if match {
		if wasLocked {
			// A correct password does not lift an active lockout.
			return nil, lockedUntil(*user.LockoutUntil, now)
		}
		return g.succeed(ctx, user)
	}

	next, lockedNow := g.failure(user.State(), now)
	if err := g.users.UpdateLoginState(ctx, user.ID, user.Version, next); err != nil {
		return nil, err
	}

	g.logger.Info("Failed login",
		zap.Int64("user_id", user.ID),
		zap.Int("failed_attempts", next.FailedLoginAttempts),
		zap.Bool("locked", lockedNow),
	)

	if !lockedNow {
		return nil, ErrInvalidCredentials
	}

	lockErr := lockedUntil(*next.LockoutUntil, now)
	if !wasLocked {
		g.notifier.Notify(ctx, notify.Alert{
			Kind:    notify.KindAccountLocked,
			Subject: user.Username,
			Detail:  fmt.Sprintf("%d failed logins, locked for %ds", next.FailedLoginAttempts, lockErr.RemainingSeconds()),
			Time:    now,
		})
	}
	return nil, lockErr
}

// failure computes the login state after one more failed attempt. The
// second result reports whether the account is temporarily locked afterwards.
func (g *LoginGuard) failure(state models.LoginState, now time.Time) (models.LoginState, bool) {
	next := state
	next.FailedLoginAttempts = min(state.FailedLoginAttempts+1, g.policy.MaxAttempts)
	if next.FailedLoginAttempts < g.policy.MaxAttempts {
		return next, false
	}

	until := now.Add(g.policy.step(state.LockoutLevel))
	// Never shorten an active lockout.
	if state.LockoutUntil != nil && state.LockoutUntil.After(until) {
		until = *state.LockoutUntil
	}
	next.LockoutUntil = &until
	next.LockoutLevel = min(state.LockoutLevel+1, len(g.policy.Steps))
	return next, true
}

func (g *LoginGuard) succeed(ctx context.Context, user *models.User) (*LoginResult, error) {
	if user.FailedLoginAttempts != 0 || user.LockoutUntil != nil || user.LockoutLevel != 0 {
		if err := g.users.UpdateLoginState(ctx, user.ID, user.Version, models.LoginState{}); err != nil {
			return nil, err
		}
		user.FailedLoginAttempts, user.LockoutUntil, user.LockoutLevel = 0, nil, 0
	}

	token, expiresAt, err := g.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		g.logger.Error("Failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil, err
	}

	g.logger.Info("User logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// burnHash spends the same hashing work as a real comparison so unknown
// usernames are not distinguishable by response time.
func (g *LoginGuard) burnHash(password string) {
	g.dummyOnce.Do(func() {
		hash, err := g.hasher.Hash("not-a-real-password")
		if err != nil {
			g.logger.Warn("Failed to prepare dummy hash", zap.Error(err))
			return
		}
		g.dummyHash = hash
	})
	if g.dummyHash != "" {
		_, _ = g.hasher.Compare(g.dummyHash, password)
	}
}

func lockedUntil(until, now time.Time) *AccountLockedError {
	return &AccountLockedError{Until: until, Remaining: until.Sub(now)}
}
