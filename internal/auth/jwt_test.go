package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager([]byte("super-secret-test-key"), "remembr-test", time.Minute, time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewJWTManagerRejectsEmptySecret(t *testing.T) {
	_, err := NewJWTManager(nil, "remembr-test", time.Minute, time.Hour)
	require.Error(t, err)
}

func TestNewJWTManagerDefaultsTTLs(t *testing.T) {
	m, err := NewJWTManager([]byte("secret"), "remembr-test", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, m.accessTokenDuration)
	assert.Equal(t, 7*24*time.Hour, m.refreshTokenDuration)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := testManager(t)

	token, expiresAt, err := m.GenerateAccessToken("user-1", "agent-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, time.Second)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "agent-1", claims.AgentID)
	assert.Equal(t, tokenTypeAccess, claims.Type)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := testManager(t)

	token, _, err := m.GenerateRefreshToken("user-1")
	require.NoError(t, err)

	claims, err := m.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, tokenTypeRefresh, claims.Type)
}

func TestValidateAccessTokenRejectsRefreshToken(t *testing.T) {
	m := testManager(t)

	refresh, _, err := m.GenerateRefreshToken("user-1")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(refresh)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateRefreshTokenRejectsAccessToken(t *testing.T) {
	m := testManager(t)

	access, _, err := m.GenerateAccessToken("user-1", "")
	require.NoError(t, err)

	_, err = m.ValidateRefreshToken(access)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	m, err := NewJWTManager([]byte("super-secret-test-key"), "remembr-test", time.Minute, time.Hour)
	require.NoError(t, err)
	// NewJWTManager replaces a non-positive TTL with the default, so the
	// negative lifetime is set on the manager directly.
	m.accessTokenDuration = -time.Minute

	token, _, err := m.GenerateAccessToken("user-1", "")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	m := testManager(t)
	other, err := NewJWTManager([]byte("a-different-secret"), "remembr-test", time.Minute, time.Hour)
	require.NoError(t, err)

	token, _, err := m.GenerateAccessToken("user-1", "")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	m := testManager(t)

	_, err := m.ValidateAccessToken("not-a-jwt-at-all")
	require.ErrorIs(t, err, ErrTokenInvalid)
}
