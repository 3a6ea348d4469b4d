package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestVerificationCodeConsume(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetVerificationCode(ctx, "a@example.com", "123456"))

	// Wrong code leaves the stored one intact.
	ok, err := s.ConsumeVerificationCode(ctx, "a@example.com", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeVerificationCode(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	// A consumed code cannot be replayed.
	ok, err = s.ConsumeVerificationCode(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerificationCodeExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetVerificationCode(ctx, "a@example.com", "123456"))
	mr.FastForward(VerificationCodeTTL + time.Second)

	ok, err := s.ConsumeVerificationCode(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerificationCodeEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.ConsumeVerificationCode(context.Background(), "a@example.com", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreRefreshToken(ctx, "tok-1", "usr_1", time.Hour))

	userID, err := s.LookupRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", userID)

	require.NoError(t, s.RevokeRefreshToken(ctx, "tok-1"))
	userID, err = s.LookupRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "", userID)

	// Tokens expire on their own after the configured lifetime.
	require.NoError(t, s.StoreRefreshToken(ctx, "tok-2", "usr_1", time.Minute))
	mr.FastForward(2 * time.Minute)
	userID, err = s.LookupRefreshToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.Equal(t, "", userID)
}

func TestUserCache(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	user := &model.User{
		UserID:         "usr_1",
		Email:          "a@example.com",
		Username:       "alice",
		CurrentCredits: 480,
	}
	require.NoError(t, s.CacheUser(ctx, user))

	byID, err := s.GetCachedUserByID(ctx, "usr_1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "a@example.com", byID.Email)
	assert.Equal(t, 480, byID.CurrentCredits)

	byEmail, err := s.GetCachedUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "usr_1", byEmail.UserID)

	require.NoError(t, s.InvalidateUser(ctx, "usr_1", "a@example.com"))
	byID, err = s.GetCachedUserByID(ctx, "usr_1")
	require.NoError(t, err)
	assert.Nil(t, byID)
	byEmail, err = s.GetCachedUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, byEmail)
}
