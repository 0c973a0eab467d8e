package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/dsh272k4/baomatweb/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret, issuer string, ttl time.Duration, now func() time.Time) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: now}, nil
}

// Issue signs a token for the given identity and returns it with its expiry.
func (s *TokenService) Issue(userID int64, username string, role models.Role) (string, time.Time, error) {
	issuedAt := jwt.NewNumericDate(s.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(s.ttl))

	claims := &models.Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Verify checks the signature, algorithm, issuer and expiry of a token and
// returns its claims.
func (s *TokenService) Verify(tokenString string) (*models.Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Role.Valid() || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireRole succeeds only when claims carry exactly the given role.
func RequireRole(claims *models.Claims, role models.Role) error {
	if claims == nil || claims.Role != role {
		return ErrForbidden
	}
	return nil
}
