package authc_test

import (
	"strings"
	"testing"

	"github.com/shardkit/authc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	salt, hash, err := authc.HashPassword("pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, salt)
	assert.NotEmpty(t, hash)

	assert.True(t, authc.VerifyPassword("pw123", salt, hash))
	assert.False(t, authc.VerifyPassword("pw124", salt, hash))
	assert.False(t, authc.VerifyPassword("PW123", salt, hash))
	assert.False(t, authc.VerifyPassword("", salt, hash))
}

func TestHashPassword_EmptyPassword(t *testing.T) {
	_, _, err := authc.HashPassword("")
	assert.ErrorIs(t, err, authc.ErrNoEmptyString)
}

func TestHashPassword_SaltVariesPerCall(t *testing.T) {
	salt1, hash1, err := authc.HashPassword("pw123")
	require.NoError(t, err)
	salt2, hash2, err := authc.HashPassword("pw123")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
	// Each pair still verifies against its own salt.
	assert.True(t, authc.VerifyPassword("pw123", salt1, hash1))
	assert.True(t, authc.VerifyPassword("pw123", salt2, hash2))
}

func TestNewLocalID_Format(t *testing.T) {
	id := authc.NewLocalID()
	assert.True(t, strings.HasPrefix(id, "0x"))
	assert.Len(t, id, 34)
	assert.NotEqual(t, id, authc.NewLocalID())
}

func TestNewRefreshToken_Format(t *testing.T) {
	token := authc.NewRefreshToken()
	assert.True(t, strings.HasPrefix(token, "0x"))
	assert.Len(t, token, 66)
	assert.NotEqual(t, token, authc.NewRefreshToken())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "bob@x.com", authc.NormalizeEmail("  Bob@X.COM "))
	assert.Equal(t, "bob@x.com", authc.NormalizeEmail("bob@x.com"))
}

func TestIdentityKeyFor_Deterministic(t *testing.T) {
	a := authc.IdentityKeyFor("t1", authc.ProviderEmail, "Bob@X.com")
	b := authc.IdentityKeyFor("t1", authc.ProviderEmail, "bob@x.com")
	assert.Equal(t, a, b, "case and whitespace variants must route to the same shard")

	assert.NotEqual(t, a, authc.IdentityKeyFor("t2", authc.ProviderEmail, "bob@x.com"))
	assert.NotEqual(t, a, authc.IdentityKeyFor("t1", "google", "bob@x.com"))
	assert.NotEqual(t, a, authc.IdentityKeyFor("t1", authc.ProviderEmail, "alice@x.com"))
}
