package service

import (
	"strings"
	"testing"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	s, err := NewTokenService("test-secret", "baomatweb-test", time.Hour, clock.Now)
	require.NoError(t, err)
	return s
}

func TestTokenService_RoundTripKeepsClaims(t *testing.T) {
	clock := newFakeClock()
	s := newTestTokenService(t, clock)

	token, expiresAt, err := s.Issue(7, "alice", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

	clock.Advance(59 * time.Minute)
	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "baomatweb-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenService_UniqueTokenIDs(t *testing.T) {
	s := newTestTokenService(t, newFakeClock())

	a, _, err := s.Issue(1, "alice", models.RoleUser)
	require.NoError(t, err)
	b, _, err := s.Issue(1, "alice", models.RoleUser)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenService_ExpiredTokenIsInvalid(t *testing.T) {
	clock := newFakeClock()
	s := newTestTokenService(t, clock)

	token, _, err := s.Issue(1, "alice", models.RoleUser)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	clock := newFakeClock()
	s := newTestTokenService(t, clock)

	valid, _, err := s.Issue(1, "alice", models.RoleUser)
	require.NoError(t, err)

	other, err := NewTokenService("another-secret", "baomatweb-test", time.Hour, clock.Now)
	require.NoError(t, err)
	foreign, _, err := other.Issue(1, "alice", models.RoleAdmin)
	require.NoError(t, err)

	otherIssuer, err := NewTokenService("test-secret", "someone-else", time.Hour, clock.Now)
	require.NoError(t, err)
	wrongIssuer, _, err := otherIssuer.Issue(1, "alice", models.RoleUser)
	require.NoError(t, err)

	registered := jwt.RegisteredClaims{
		Issuer:    "baomatweb-test",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &models.Claims{
		UserID: 1, Username: "alice", Role: models.RoleAdmin, RegisteredClaims: registered,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.Claims{
		UserID: 1, Username: "alice", Role: "root", RegisteredClaims: registered,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &models.Claims{
		UserID: 1, Username: "alice", Role: models.RoleUser, RegisteredClaims: registered,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.Claims{
		UserID: 1, Username: "alice", Role: models.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "baomatweb-test"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + strings.Split(foreign, ".")[1] + "." + parts[2]

	tests := map[string]string{
		"garbage":        "not.a.token",
		"tampered":       tampered,
		"foreign secret": foreign,
		"wrong issuer":   wrongIssuer,
		"alg none":       unsigned,
		"unknown role":   badRole,
		"unexpected alg": hs512,
		"missing expiry": noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenService_EmptyTokenIsMissing(t *testing.T) {
	s := newTestTokenService(t, newFakeClock())

	_, err := s.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("", "iss", time.Hour, nil)
	assert.Error(t, err)

	_, err = NewTokenService("secret", "iss", 0, nil)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	admin := &models.Claims{UserID: 1, Username: "root", Role: models.RoleAdmin}
	user := &models.Claims{UserID: 2, Username: "alice", Role: models.RoleUser}

	assert.NoError(t, RequireRole(admin, models.RoleAdmin))
	assert.NoError(t, RequireRole(user, models.RoleUser))
	assert.ErrorIs(t, RequireRole(user, models.RoleAdmin), ErrForbidden)
	assert.ErrorIs(t, RequireRole(admin, models.RoleUser), ErrForbidden)
	assert.ErrorIs(t, RequireRole(nil, models.RoleAdmin), ErrForbidden)
}
