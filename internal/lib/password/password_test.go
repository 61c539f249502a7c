package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := h.Hash("pw1")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", string(hash))

	assert.True(t, h.Verify("pw1", hash))
	assert.False(t, h.Verify("pw2", hash))
	assert.False(t, h.Verify("", hash))
}

func TestHasher_VerifyMalformedHash(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	assert.False(t, h.Verify("pw1", []byte("not-a-bcrypt-hash")))
	assert.False(t, h.Verify("pw1", nil))
}

func TestHasher_TooLong(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = h.Hash(strings.Repeat("x", 73))
	require.ErrorIs(t, err, ErrTooLong)
}

func TestNewHasher_Cost(t *testing.T) {
	h, err := NewHasher(0)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, h.cost)

	_, err = NewHasher(bcrypt.MaxCost + 1)
	require.Error(t, err)

	_, err = NewHasher(1)
	require.Error(t, err)
}
