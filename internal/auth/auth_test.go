package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvashub/internal/models"
)

func testUser() models.User {
	return models.User{
		ID:          "user-123",
		Email:       "ada@example.com",
		DisplayName: "Ada",
	}
}

func TestService_IssueAndParseAccessToken_RoundTrips(t *testing.T) {
	svc := New("test-secret")
	user := testUser()

	token, expiresAt, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(accessTokenTTL), expiresAt, time.Second)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.DisplayName, claims.DisplayName)
	assert.WithinDuration(t, expiresAt, claims.ExpiresAt, time.Second)
}

func TestService_IssueRefreshToken_HasLongerTTLThanAccessToken(t *testing.T) {
	svc := New("test-secret")
	user := testUser()

	_, accessExpiry, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	_, refreshExpiry, err := svc.IssueRefreshToken(user)
	require.NoError(t, err)

	assert.True(t, refreshExpiry.After(accessExpiry))
}

func TestService_Parse_RejectsTokenFromDifferentSecret(t *testing.T) {
	issuer := New("secret-a")
	verifier := New("secret-b")

	token, _, err := issuer.IssueAccessToken(testUser())
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Parse_RejectsGarbage(t *testing.T) {
	svc := New("test-secret")
	_, err := svc.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Parse_RejectsNoneAlgorithm(t *testing.T) {
	// Regression guard: a token crafted with alg=none (or any non-HMAC
	// method) must never be accepted, regardless of the secret held.
	svc := New("test-secret")
	const noneAlgToken = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEyMyJ9."
	_, err := svc.Parse(noneAlgToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashAndCheckPassword_RoundTrips(t *testing.T) {
	hashed, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse-battery-staple", hashed)

	assert.NoError(t, CheckPassword(hashed, "correct-horse-battery-staple"))
}

func TestCheckPassword_RejectsWrongPassword(t *testing.T) {
	hashed, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	err = CheckPassword(hashed, "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
