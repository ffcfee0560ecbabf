package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier := NewTokenVerifier(TokenConfig{Secret: "secret", Issuer: "identity"})
	token := signToken(t, "secret", &models.JWTClaims{
		Role: models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStaff, claims.Role)
}

func TestTokenVerifierRejectsWrongSecret(t *testing.T) {
	verifier := NewTokenVerifier(TokenConfig{Secret: "secret"})
	token := signToken(t, "other", &models.JWTClaims{UserID: "user-1"})

	_, err := verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenVerifierRejectsExpired(t *testing.T) {
	verifier := NewTokenVerifier(TokenConfig{Secret: "secret"})
	token := signToken(t, "secret", &models.JWTClaims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})

	_, err := verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenVerifierRejectsWrongIssuer(t *testing.T) {
	verifier := NewTokenVerifier(TokenConfig{Secret: "secret", Issuer: "identity"})
	token := signToken(t, "secret", &models.JWTClaims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})

	_, err := verifier.ValidateToken(token)
	assert.Error(t, err)
}
