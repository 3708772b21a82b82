package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_RoundTrip(t *testing.T) {
	t.Parallel()
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("Correct-Horse-1")
	require.NoError(t, err)
	assert.NotEqual(t, "Correct-Horse-1", hash)

	require.NoError(t, h.Compare(hash, "Correct-Horse-1"))
	require.ErrorIs(t, h.Compare(hash, "wrong"), ErrPasswordMismatch)
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	t.Parallel()
	h := NewPasswordHasher(bcrypt.MinCost)

	err := h.Compare("not-a-hash", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	t.Parallel()
	cheap := NewPasswordHasher(bcrypt.MinCost)
	hash, err := cheap.Hash("pw")
	require.NoError(t, err)

	assert.False(t, cheap.NeedsRehash(hash))
	assert.True(t, NewPasswordHasher(bcrypt.MinCost+1).NeedsRehash(hash))
	assert.True(t, cheap.NeedsRehash("garbage"))
}

func TestPasswordHasher_TooLong(t *testing.T) {
	t.Parallel()
	h := NewPasswordHasher(bcrypt.MinCost)
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a'
	}
	_, err := h.Hash(string(long))
	require.Error(t, err)
}
