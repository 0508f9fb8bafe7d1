package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(16)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), s)
}

func TestCopyBytes(t *testing.T) {
	src := []byte("original")
	dst := CopyBytes(src)
	assert.Equal(t, src, dst)

	dst[0] = 'X'
	assert.Equal(t, byte('o'), src[0])
}

func TestWipeBytes(t *testing.T) {
	b := []byte("sensitive")
	WipeBytes(b)
	for _, c := range b {
		assert.Zero(t, c)
	}
}

func TestDeriveKey(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveKey(seed, nil, []byte("purpose-a"))
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	// Deterministic for the same inputs.
	k2, err := DeriveKey(seed, nil, []byte("purpose-a"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Different info strings yield different keys.
	k3, err := DeriveKey(seed, nil, []byte("purpose-b"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	plaintext := []byte(`{"user_id":"user-1"}`)
	aad := []byte("sess-1")

	ct, err := Seal(plaintext, key, aad)
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "user-1")

	pt, err := Open(ct, key, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestOpenRejectsTamper(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	ct, err := Seal([]byte("payload"), key, []byte("aad"))
	require.NoError(t, err)

	t.Run("flipped byte", func(t *testing.T) {
		bad := CopyBytes(ct)
		bad[len(bad)-1] ^= 0x01
		_, err := Open(bad, key, []byte("aad"))
		assert.Error(t, err)
	})

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Open(ct, key, []byte("other"))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := RandomBytes(KeySize)
		require.NoError(t, err)
		_, err = Open(ct, other, []byte("aad"))
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Open(ct[:4], key, []byte("aad"))
		assert.Error(t, err)
	})
}

func TestSealRejectsBadKeySize(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"), nil)
	assert.Error(t, err)
}
