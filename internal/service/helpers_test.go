package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"
	"github.com/dsh272k4/baomatweb/internal/notify"
	"github.com/dsh272k4/baomatweb/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var testSteps = []time.Duration{30 * time.Second, 60 * time.Second, 300 * time.Second, 900 * time.Second, 3600 * time.Second}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type recordingAudit struct {
	mu    sync.Mutex
	lines []string
}

func (a *recordingAudit) AdminAction(actor, action, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, actor+" -> "+action+" "+target)
}

type fixture struct {
	users    *repository.MemoryUserRepository
	hasher   *PasswordHasher
	tokens   *TokenService
	guard    *LoginGuard
	auth     AuthService
	admin    AdminService
	clock    *fakeClock
	notifier *recordingNotifier
	audit    *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users:    repository.NewMemoryUserRepository(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
	}

	var err error
	f.hasher, err = NewPasswordHasher(HashBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	f.tokens, err = NewTokenService("test-secret", "baomatweb-test", time.Hour, f.clock.Now)
	require.NoError(t, err)
	f.guard, err = NewLoginGuard(f.users, f.hasher, f.tokens, LockPolicy{MaxAttempts: 5, Steps: testSteps}, f.notifier, zap.NewNop(), f.clock.Now)
	require.NoError(t, err)

	f.auth = NewAuthService(f.users, f.hasher, f.guard, 6, zap.NewNop())
	f.admin = NewAdminService(f.users, f.hasher, f.audit, 6, zap.NewNop())
	return f
}

func (f *fixture) register(t *testing.T, username, password string) *models.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), username, password)
	require.NoError(t, err)
	return user
}

func (f *fixture) user(t *testing.T, id int64) *models.User {
	t.Helper()
	user, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}
