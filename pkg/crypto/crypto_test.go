package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-passphrase")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-passphrase", hash)

	require.True(t, VerifyPassword(hash, "s3cret-passphrase"))
	require.False(t, VerifyPassword(hash, "wrong"))
}

func TestGenerateTokenUniqueness(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestHashTokenIsStable(t *testing.T) {
	require.Equal(t, HashToken("tok-123"), HashToken("tok-123"))
	require.NotEqual(t, HashToken("tok-123"), HashToken("tok-124"))
}

func TestTokensEqual(t *testing.T) {
	require.True(t, TokensEqual("abc", "abc"))
	require.False(t, TokensEqual("abc", "abd"))
}
