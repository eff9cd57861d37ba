package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	k1, err := DeriveKey("password", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("password", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	other, err := DeriveKey("Password", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestDeriveKeyNormalizesNFKC(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	// U+212B ANGSTROM SIGN normalizes to U+00C5.
	k1, err := DeriveKey("Å", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("Å", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewRandomSealer()
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("refresh-token"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "refresh-token")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", string(plain))
}

func TestSealIsNonDeterministic(t *testing.T) {
	s, err := NewRandomSealer()
	require.NoError(t, err)

	a, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	s1, err := NewRandomSealer()
	require.NoError(t, err)
	s2, err := NewRandomSealer()
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("x"))
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	s, err := NewRandomSealer()
	require.NoError(t, err)

	_, err = s.Open([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewSealerWipesKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	_, err := NewSealer(key)
	require.NoError(t, err)

	for i, b := range key {
		assert.Zero(t, b, "key byte %d not wiped", i)
	}
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}
