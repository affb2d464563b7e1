package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuthConfig = AuthConfig{
	Secret:     []byte("test-secret"),
	Issuer:     "test-assistant",
	AccessTTL:  15 * time.Minute,
	RefreshTTL: 24 * time.Hour,
}

func newTestAuth() *AuthService {
	return NewAuthService(newMemUsers(), testAuthConfig, testLogger())
}

func parseTestToken(t *testing.T, token string) *TokenClaims {
	t.Helper()
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return testAuthConfig.Secret, nil },
		jwt.WithIssuer(testAuthConfig.Issuer),
	)
	require.NoError(t, err)
	return claims
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()

	res, err := auth.Register(ctx, " Alice@Example.com ", "Alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.NotEqual(t, "s3cret", res.User.PasswordHash)
	assert.Equal(t, 900, res.Tokens.ExpiresIn)

	access := parseTestToken(t, res.Tokens.AccessToken)
	assert.Equal(t, res.User.ID, access.Subject)
	assert.Equal(t, "alice@example.com", access.Email)
	assert.Equal(t, "Alice", access.Name)
	assert.Empty(t, access.Type)
	require.NotNil(t, access.ExpiresAt)
	require.NotNil(t, access.IssuedAt)

	refresh := parseTestToken(t, res.Tokens.RefreshToken)
	assert.Equal(t, TokenTypeRefresh, refresh.Type)
	assert.Equal(t, res.User.ID, refresh.Subject)

	logged, err := auth.Login(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, logged.User.ID)
}

func TestAuth_RegisterRejected(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()

	_, err := auth.Register(ctx, "", "x", "pw")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = auth.Register(ctx, "a@example.com", "x", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = auth.Register(ctx, "a@example.com", "x", strings.Repeat("p", 73))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = auth.Register(ctx, "a@example.com", "x", "pw")
	require.NoError(t, err)
	_, err = auth.Register(ctx, "A@example.com", "y", "pw2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAuth_LoginRejected(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()
	_, err := auth.Register(ctx, "a@example.com", "x", "pw")
	require.NoError(t, err)

	_, err = auth.Login(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = auth.Login(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = auth.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuth_Refresh(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()
	res, err := auth.Register(ctx, "a@example.com", "A", "pw")
	require.NoError(t, err)

	refreshed, err := auth.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, refreshed.User.ID)
	assert.NotEmpty(t, refreshed.Tokens.AccessToken)

	// access-токен не принимается как refresh
	_, err = auth.Refresh(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = auth.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = auth.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	other := NewAuthService(newMemUsers(), AuthConfig{
		Secret: []byte("other-secret"), Issuer: "test-assistant", AccessTTL: time.Minute, RefreshTTL: time.Hour,
	}, testLogger())
	_, err = other.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuth_RefreshExpired(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()
	res, err := auth.Register(ctx, "a@example.com", "A", "pw")
	require.NoError(t, err)

	auth.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = auth.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
