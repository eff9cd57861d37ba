package account

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/oidcd/internal/oidcerr"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

func testAccount(name string) *Account {
	return &Account{
		Shortname:    name,
		IssuerURL:    "https://issuer.example.com",
		ClientID:     "client-" + name,
		ClientSecret: secret.FromString("secret-" + name),
		Scope:        "openid profile offline_access",
		RefreshToken: secret.FromString("refresh-" + name),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-s1", got.RefreshToken.Value())
	assert.Equal(t, "secret-s1", got.ClientSecret.Value())
}

func TestInsertSealsSecretsAtRest(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))

	stored := r.accounts["s1"]
	assert.False(t, bytes.Contains(stored.RefreshToken.Bytes(), []byte("refresh-s1")),
		"stored refresh token must not contain plaintext")
	assert.False(t, bytes.Contains(stored.ClientSecret.Bytes(), []byte("secret-s1")),
		"stored client secret must not contain plaintext")
}

func TestInsertReplacesSameShortname(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))

	replacement := testAccount("s1")
	replacement.RefreshToken.Wipe()
	replacement.RefreshToken = secret.FromString("rotated")
	require.NoError(t, r.Insert(replacement))

	assert.Equal(t, 1, r.Len())
	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.RefreshToken.Value())
}

func TestGetUnknownAccount(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, oidcerr.ErrAccountNotLoaded)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))

	first, err := r.Get("s1")
	require.NoError(t, err)
	first.RefreshToken.Wipe()

	second, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-s1", second.RefreshToken.Value())
}

func TestGetByState(t *testing.T) {
	r := newTestRegistry(t)
	a := testAccount("s1")
	a.UsedState = "state-abc"
	a.CodeVerifier = secret.FromString("verifier")
	require.NoError(t, r.Insert(a))
	require.NoError(t, r.Insert(testAccount("s2")))

	got, err := r.GetByState("state-abc")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Shortname)
	assert.Equal(t, "verifier", got.CodeVerifier.Value())

	_, err = r.GetByState("state-unknown")
	assert.ErrorIs(t, err, oidcerr.ErrAccountNotLoaded)
}

func TestRemoveAndRemoveAll(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))
	require.NoError(t, r.Insert(testAccount("s2")))

	assert.True(t, r.Remove("s1"))
	assert.False(t, r.Remove("s1"))
	assert.Equal(t, 1, r.Len())

	r.RemoveAll()
	assert.Zero(t, r.Len())
}

func TestReapEvictsExpired(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()

	expired := testAccount("old")
	expired.Death = now.Add(-time.Minute).Unix()
	fresh := testAccount("fresh")
	fresh.Death = now.Add(time.Hour).Unix()
	immortal := testAccount("immortal") // death 0

	require.NoError(t, r.Insert(expired))
	require.NoError(t, r.Insert(fresh))
	require.NoError(t, r.Insert(immortal))

	reaped := r.Reap(now)
	assert.Equal(t, []string{"old"}, reaped)
	assert.Equal(t, []string{"fresh", "immortal"}, r.Names())
}

func TestSetDeathDoesNotTouchSecrets(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))

	assert.True(t, r.SetDeath("s1", 42))
	assert.False(t, r.SetDeath("missing", 42))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.Death)
	assert.Equal(t, "refresh-s1", got.RefreshToken.Value())
}

func TestLockRejectsEverythingButUnlock(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))
	require.NoError(t, r.Lock("pw"))

	_, err := r.Get("s1")
	assert.ErrorIs(t, err, oidcerr.ErrAgentLocked)
	_, err = r.GetByState("x")
	assert.ErrorIs(t, err, oidcerr.ErrAgentLocked)
	assert.ErrorIs(t, r.Insert(testAccount("s2")), oidcerr.ErrAgentLocked)
	assert.ErrorIs(t, r.Lock("pw"), oidcerr.ErrAgentLocked)
}

func TestLockLeavesNoPlaintext(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))
	require.NoError(t, r.Lock("pw"))

	stored := r.accounts["s1"]
	for _, blob := range [][]byte{stored.RefreshToken.Bytes(), stored.ClientSecret.Bytes()} {
		assert.False(t, bytes.Contains(blob, []byte("refresh-s1")))
		assert.False(t, bytes.Contains(blob, []byte("secret-s1")))
	}
	assert.Nil(t, r.sealer, "process sealer must be dropped while locked")
}

func TestUnlockWithCorrectPassword(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))
	require.NoError(t, r.Lock("pw"))
	require.NoError(t, r.Unlock("pw"))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-s1", got.RefreshToken.Value())
}

func TestUnlockWithWrongPasswordStaysLocked(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Insert(testAccount("s1")))
	require.NoError(t, r.Lock("pw"))

	assert.ErrorIs(t, r.Unlock("wrong"), oidcerr.ErrBadPassword)
	assert.True(t, r.Locked())

	// The right password still works afterwards.
	require.NoError(t, r.Unlock("pw"))
	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-s1", got.RefreshToken.Value())
}

func TestUnlockWhenNotLocked(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Unlock("pw"), oidcerr.ErrBadRequest)
}

func TestLockEmptyRegistryRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Lock("pw"))
	require.NoError(t, r.Unlock("pw"))
	require.NoError(t, r.Insert(testAccount("s1")))
}
