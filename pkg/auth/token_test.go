package auth

import (
	"testing"
	"time"

	"github.com/formy-ai/formy/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundtrip(t *testing.T) {
	token, err := issueAccessToken("secret", "usr_1", "a@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := VerifyAccessToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "formy", claims.Issuer)
}

func TestAccessTokenWrongSecret(t *testing.T) {
	token, err := issueAccessToken("secret", "usr_1", "a@example.com", time.Hour)
	require.NoError(t, err)

	_, err = VerifyAccessToken("other-secret", token)
	require.Error(t, err)
	assert.Equal(t, errors.KindUnauthenticated, errors.Kind(err))
}

func TestAccessTokenExpired(t *testing.T) {
	token, err := issueAccessToken("secret", "usr_1", "a@example.com", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyAccessToken("secret", token)
	require.Error(t, err)
	assert.Equal(t, errors.KindUnauthenticated, errors.Kind(err))
}

func TestAccessTokenGarbage(t *testing.T) {
	_, err := VerifyAccessToken("secret", "not.a.token")
	require.Error(t, err)
	assert.Equal(t, errors.KindUnauthenticated, errors.Kind(err))
}

func TestNewRefreshToken(t *testing.T) {
	a, err := newRefreshToken()
	require.NoError(t, err)
	b, err := newRefreshToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
