package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceSignsWithItsOwnKey(t *testing.T) {
	svc := NewService("session-signing-key", time.Hour)

	token, err := svc.GenerateToken("sess-1", RoleSpeaker)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, RoleSpeaker, claims.Role)
	assert.True(t, claims.HasRole(RoleSpeaker))
}

func TestServiceRejectsTokenSignedWithAnotherKey(t *testing.T) {
	minter := NewService("key-one", time.Hour)
	verifier := NewService("key-two", time.Hour)

	token, err := minter.GenerateToken("sess-1", RoleListener)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceRejectsExpiredToken(t *testing.T) {
	svc := NewService("session-signing-key", time.Hour)

	token, err := generateTokenWithKey("session-signing-key", "sess-1", RoleSpeaker, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
