package services

import (
	"testing"
	"time"

	"roomcast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)
	in := domain.Participant{ID: "p1", Name: "Ada", Role: domain.RoleModerator}

	token, err := auth.GenerateToken(in)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, in, claims.Participant())
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	_, err := auth.GenerateToken(domain.Participant{ID: "p1", Role: "admin"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewAuthService("other", time.Hour).GenerateToken(domain.Participant{ID: "p1", Role: domain.RoleViewer})
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthService("secret", -time.Minute).GenerateToken(domain.Participant{ID: "p1", Role: domain.RoleViewer})
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: domain.RoleViewer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
