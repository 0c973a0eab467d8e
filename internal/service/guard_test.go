package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoginGuard_FailuresBelowThresholdKeepAccountActive(t *testing.T) {
	ctx := context.Background()

	for n := 1; n < 5; n++ {
		f := newFixture(t)
		alice := f.register(t, "alice", "secret1")

		for i := 0; i < n; i++ {
			_, err := f.guard.AttemptLogin(ctx, "alice", "wrong")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}

		stored := f.user(t, alice.ID)
		assert.Equal(t, n, stored.FailedLoginAttempts)
		assert.Nil(t, stored.LockoutUntil)
		assert.False(t, stored.IsLocked)
	}
}

func TestLoginGuard_LockoutScheduleEscalatesAndSaturates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")
	start := f.clock.Now()

	for i := 0; i < 4; i++ {
		_, err := f.guard.AttemptLogin(ctx, "alice", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	expected := []time.Duration{30 * time.Second, 60 * time.Second, 300 * time.Second, 900 * time.Second, 3600 * time.Second, 3600 * time.Second}
	for i, want := range expected {
		_, err := f.guard.AttemptLogin(ctx, "alice", "wrong")

		var locked *AccountLockedError
		require.ErrorAs(t, err, &locked, "failure %d", i+5)
		assert.False(t, locked.Permanent)
		assert.Equal(t, start.Add(want), locked.Until, "failure %d", i+5)
		assert.Equal(t, int64(want/time.Second), locked.RemainingSeconds())

		stored := f.user(t, alice.ID)
		assert.Equal(t, 5, stored.FailedLoginAttempts, "counter stays pinned")
		require.NotNil(t, stored.LockoutUntil)
		assert.Equal(t, start.Add(want), stored.LockoutUntil.UTC())
	}
}

func TestLoginGuard_EscalatesAfterLockoutExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice", "secret1")

	for i := 0; i < 5; i++ {
		_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
	}
	f.clock.Advance(31 * time.Second)

	_, err := f.guard.AttemptLogin(ctx, "alice", "wrong")
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), locked.Until)
}

func TestLoginGuard_LockoutUntilNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")

	var previous time.Time
	for i := 0; i < 12; i++ {
		_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
		f.clock.Advance(7 * time.Second)

		stored := f.user(t, alice.ID)
		if stored.LockoutUntil == nil {
			continue
		}
		assert.False(t, stored.LockoutUntil.Before(previous), "attempt %d", i+1)
		previous = *stored.LockoutUntil
	}
}

func TestLoginGuard_SuccessResetsCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")

	for i := 0; i < 3; i++ {
		_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
	}

	result, err := f.guard.AttemptLogin(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), result.ExpiresAt)

	stored := f.user(t, alice.ID)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockoutUntil)
	assert.Zero(t, stored.LockoutLevel)
}

func TestLoginGuard_CorrectPasswordDuringLockoutStaysLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")

	for i := 0; i < 5; i++ {
		_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
	}

	_, err := f.guard.AttemptLogin(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, ErrAccountLocked)

	f.clock.Advance(30 * time.Second)
	result, err := f.guard.AttemptLogin(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	stored := f.user(t, alice.ID)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockoutUntil)
}

func TestLoginGuard_PermanentLockWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")
	require.NoError(t, f.users.SetLocked(ctx, alice.ID, true))

	for _, password := range []string{"secret1", "wrong"} {
		_, err := f.guard.AttemptLogin(ctx, "alice", password)
		var locked *AccountLockedError
		require.ErrorAs(t, err, &locked)
		assert.True(t, locked.Permanent)
		assert.Zero(t, locked.RemainingSeconds())
	}

	assert.Zero(t, f.user(t, alice.ID).FailedLoginAttempts, "refused attempts are not counted")

	// Only an administrator can lift it.
	f.clock.Advance(24 * time.Hour)
	_, err := f.guard.AttemptLogin(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, ErrAccountLocked)

	require.NoError(t, f.users.SetLocked(ctx, alice.ID, false))
	_, err = f.guard.AttemptLogin(ctx, "alice", "secret1")
	assert.NoError(t, err)
}

func TestLoginGuard_UnknownUserIsInvalidCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.AttemptLogin(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginGuard_NotifiesOnNewLockoutOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice", "secret1")

	for i := 0; i < 7; i++ {
		_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
	}
	assert.Equal(t, 1, f.notifier.count(), "failures during an active lockout extend it silently")

	f.clock.Advance(time.Hour)
	_, _ = f.guard.AttemptLogin(ctx, "alice", "wrong")
	assert.Equal(t, 2, f.notifier.count())
}

func TestLoginGuard_ConcurrentFailuresCountedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")

	const attempts = 4
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.guard.AttemptLogin(ctx, "alice", "wrong")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	assert.Equal(t, attempts, f.user(t, alice.ID).FailedLoginAttempts)
}

// conflictingRepo makes the first n login-state writes lose the race.
type conflictingRepo struct {
	repository.UserRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) UpdateLoginState(ctx context.Context, id, version int64, state models.LoginState) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return repository.ErrVersionConflict
	}
	r.mu.Unlock()
	return r.UserRepository.UpdateLoginState(ctx, id, version, state)
}

func TestLoginGuard_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", "secret1")

	repo := &conflictingRepo{UserRepository: f.users, conflicts: 2}
	guard, err := NewLoginGuard(repo, f.hasher, f.tokens, LockPolicy{MaxAttempts: 5, Steps: testSteps}, nil, zap.NewNop(), f.clock.Now)
	require.NoError(t, err)

	_, err = guard.AttemptLogin(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.user(t, alice.ID).FailedLoginAttempts)
}

func TestLoginGuard_FailsClosedWhenConflictsPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice", "secret1")

	repo := &conflictingRepo{UserRepository: f.users, conflicts: 100}
	guard, err := NewLoginGuard(repo, f.hasher, f.tokens, LockPolicy{MaxAttempts: 5, Steps: testSteps}, nil, zap.NewNop(), f.clock.Now)
	require.NoError(t, err)

	_, err = guard.AttemptLogin(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
	assert.False(t, errors.Is(err, ErrAccountLocked))
}

func TestLoginGuard_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice", "secret1")

	guard, err := NewLoginGuard(f.users, f.hasher, f.tokens, LockPolicy{MaxAttempts: 2, Steps: []time.Duration{time.Minute}}, nil, zap.NewNop(), f.clock.Now)
	require.NoError(t, err)

	_, err = guard.AttemptLogin(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = guard.AttemptLogin(ctx, "alice", "wrong")
	var locked *AccountLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, int64(60), locked.RemainingSeconds())

	_, err = NewLoginGuard(f.users, f.hasher, f.tokens, LockPolicy{MaxAttempts: 5}, nil, zap.NewNop(), nil)
	assert.Error(t, err)
}
