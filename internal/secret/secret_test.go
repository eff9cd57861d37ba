package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWipeZeroizesBuffer(t *testing.T) {
	buf := []byte("hunter2")
	s := New(buf)
	s.Wipe()

	for i, b := range buf {
		assert.Zero(t, b, "byte %d not wiped", i)
	}
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.Value())
}

func TestWipeIsIdempotentAndNilSafe(t *testing.T) {
	var s *Secret
	s.Wipe() // must not panic

	s = FromString("x")
	s.Wipe()
	s.Wipe()
	assert.True(t, s.IsEmpty())
}

func TestCloneIsIndependent(t *testing.T) {
	s := FromString("refresh-token")
	c := s.Clone()
	s.Wipe()

	assert.Equal(t, "refresh-token", c.Value())
}

func TestPrintedFormsAreRedacted(t *testing.T) {
	s := FromString("topsecret")

	assert.Equal(t, "[REDACTED]", fmt.Sprint(s))
	assert.Equal(t, "secret.Secret{[REDACTED]}", fmt.Sprintf("%#v", s))

	out, err := json.Marshal(struct {
		Token *Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "topsecret")
	assert.Contains(t, string(out), "[REDACTED]")
}

func TestFromStringDoesNotAliasInput(t *testing.T) {
	in := "password"
	s := FromString(in)
	s.Wipe()
	assert.Equal(t, "password", in)
}
