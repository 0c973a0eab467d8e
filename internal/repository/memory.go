package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"
)

// MemoryUserRepository keeps users in process memory. It backs the "memory"
// database type and the service tests.
type MemoryUserRepository struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*models.User
	byUsername map[string]int64
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       map[int64]*models.User{},
		byUsername: map[string]int64{},
	}
}

func (s *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return ErrDuplicateUsername
	}
	s.nextID++
	user.ID = s.nextID
	user.FailedLoginAttempts = 0
	user.LockoutUntil = nil
	user.LockoutLevel = 0
	user.Version = 0
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	clone := cloneUser(user)
	s.byID[clone.ID] = clone
	s.byUsername[clone.Username] = clone.ID
	return nil
}

func (s *MemoryUserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUserRepository) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryUserRepository) List(_ context.Context) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]*models.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryUserRepository) CountByRole(_ context.Context, role models.Role) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, u := range s.byID {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}

func (s *MemoryUserRepository) UpdateProfile(_ context.Context, id int64, username string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	if other, exists := s.byUsername[username]; exists && other != id {
		return ErrDuplicateUsername
	}
	delete(s.byUsername, u.Username)
	u.Username = username
	u.Role = role
	u.Version++
	s.byUsername[username] = id
	return nil
}

func (s *MemoryUserRepository) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.byUsername, u.Username)
	delete(s.byID, id)
	return nil
}

func (s *MemoryUserRepository) UpdateLoginState(_ context.Context, id, expectedVersion int64, state models.LoginState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok || u.Version != expectedVersion {
		return ErrVersionConflict
	}
	u.FailedLoginAttempts = state.FailedLoginAttempts
	u.LockoutUntil = copyTime(state.LockoutUntil)
	u.LockoutLevel = state.LockoutLevel
	u.Version++
	return nil
}

func (s *MemoryUserRepository) SetLocked(_ context.Context, id int64, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsLocked = locked
	if !locked {
		resetLoginState(u)
	}
	u.Version++
	return nil
}

func (s *MemoryUserRepository) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	resetLoginState(u)
	u.Version++
	return nil
}

func resetLoginState(u *models.User) {
	u.FailedLoginAttempts = 0
	u.LockoutUntil = nil
	u.LockoutLevel = 0
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	clone.LockoutUntil = copyTime(u.LockoutUntil)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
