package services

import (
	"context"
	"strings"
	"testing"

	"code-duel-backend/models"
	"code-duel-backend/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGuestUser(t *testing.T) {
	db := store.NewMemoryStore()
	svc := NewAuthService(db, "test-secret")

	user, err := svc.CreateGuestUser(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(user.Username, "Guest_"))
	assert.Equal(t, models.DefaultRating, user.Rating)

	loaded, err := svc.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, loaded.Username)
}

func TestGetUserNotFound(t *testing.T) {
	svc := NewAuthService(store.NewMemoryStore(), "test-secret")

	_, err := svc.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(store.NewMemoryStore(), "test-secret")

	token, err := svc.CreateToken("user-123")
	require.NoError(t, err)

	userID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)

	refresh, err := svc.CreateRefreshToken("user-123")
	require.NoError(t, err)
	userID, err = svc.VerifyToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	signer := NewAuthService(store.NewMemoryStore(), "secret-a")
	verifier := NewAuthService(store.NewMemoryStore(), "secret-b")

	token, err := signer.CreateToken("user-123")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService(store.NewMemoryStore(), "test-secret")

	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrValidation)
}
