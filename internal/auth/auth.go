// Package auth issues and validates the JWTs that carry user identity, and
// hashes passwords for account storage.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"canvashub/internal/models"
)

var (
	// ErrInvalidToken covers any malformed, expired, or badly-signed token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidCredentials covers a login attempt with the wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour
)

// Service issues and verifies access/refresh tokens using a single shared
// secret, and hashes passwords with bcrypt.
type Service struct {
	secret []byte
}

// New builds a Service from the configured JWT secret.
func New(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

type tokenClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// IssueAccessToken mints a short-lived token identifying user.
func (s *Service) IssueAccessToken(user models.User) (string, time.Time, error) {
	return s.issue(user, accessTokenTTL)
}

// IssueRefreshToken mints a long-lived token used solely to obtain new
// access tokens.
func (s *Service) IssueRefreshToken(user models.User) (string, time.Time, error) {
	return s.issue(user, refreshTokenTTL)
}

func (s *Service) issue(user models.User, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := tokenClaims{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates raw and returns the identity it carries.
func (s *Service) Parse(raw string) (models.Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Claims{}, ErrInvalidToken
	}
	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return models.Claims{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		ExpiresAt:   expiresAt,
	}, nil
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt hash.
func CheckPassword(hashed, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
