package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, err := NewAccessToken("secret", 42, TypeAccess, 15*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), tok.Exp)

	id, err := ParseAccessToken("secret", tok.Token, TypeAccess, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = ParseAccessToken("secret", tok.Token, TypeAccess, now.Add(14*time.Minute))
	assert.NoError(t, err)

	_, err = ParseAccessToken("secret", tok.Token, TypeAccess, now.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAccessTokenWrongSecret(t *testing.T) {
	now := time.Now()
	tok, err := NewAccessToken("secret", 1, TypeAccess, 15*time.Minute, now)
	require.NoError(t, err)

	_, err = ParseAccessToken("other-secret", tok.Token, TypeAccess, now)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAccessTokenWrongType(t *testing.T) {
	now := time.Now()
	tok, err := NewAccessToken("secret", 1, TypeSession, time.Hour, now)
	require.NoError(t, err)

	_, err = ParseAccessToken("secret", tok.Token, TypeAccess, now)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAccessTokenMalformed(t *testing.T) {
	for _, raw := range []string{"", "abc", "a.b.c"} {
		_, err := ParseAccessToken("secret", raw, TypeAccess, time.Now())
		assert.ErrorIs(t, err, ErrTokenInvalid, raw)
	}
}

func TestRefreshToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rt, err := NewRefreshToken(30*24*time.Hour, now)
	require.NoError(t, err)
	assert.Len(t, rt.Raw, 96)
	assert.Equal(t, now.Add(30*24*time.Hour), rt.Exp)

	other, err := NewRefreshToken(time.Hour, now)
	require.NoError(t, err)
	assert.NotEqual(t, rt.Raw, other.Raw)

	assert.Equal(t, HashRefreshRaw(rt.Raw), HashRefreshRaw(rt.Raw))
	assert.Len(t, HashRefreshRaw(rt.Raw), 64)
	assert.NotEqual(t, rt.Raw, HashRefreshRaw(rt.Raw))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "hunter22"))
	assert.False(t, VerifyPassword(hash, "hunter23"))

	_, err = HashPassword(string(make([]byte, 73)), 4)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
