package hashing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/hashing"
)

func testArgon2Params() hashing.Argon2Params {
	return hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestNewHasher(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := hashing.NewHasher("", hashing.AlgorithmHMACSHA256, hashing.DefaultArgon2Params())
		assert.ErrorIs(t, err, hashing.ErrMissingSecret)
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := hashing.NewHasher("secret", "md5", hashing.DefaultArgon2Params())
		assert.ErrorIs(t, err, hashing.ErrUnknownAlgorithm)
	})

	t.Run("defaults to hmac", func(t *testing.T) {
		h, err := hashing.NewHasher("secret", "", hashing.DefaultArgon2Params())
		require.NoError(t, err)
		assert.Equal(t, hashing.AlgorithmHMACSHA256, h.Algorithm())
	})
}

func TestHasher_Digest(t *testing.T) {
	for _, algorithm := range []string{hashing.AlgorithmHMACSHA256, hashing.AlgorithmArgon2id} {
		t.Run(algorithm, func(t *testing.T) {
			h, err := hashing.NewHasher("server-secret", algorithm, testArgon2Params())
			require.NoError(t, err)
			salt, err := h.NewSalt()
			require.NoError(t, err)

			base, err := h.Digest("+905551234567", "123456", "login", salt)
			require.NoError(t, err)

			again, err := h.Digest("+905551234567", "123456", "login", salt)
			require.NoError(t, err)
			assert.Equal(t, base, again, "digest must be deterministic")

			otherSalt, err := h.NewSalt()
			require.NoError(t, err)

			variants := map[string][4]string{
				"code":    {"+905551234567", "654321", "login", salt},
				"phone":   {"+905551234568", "123456", "login", salt},
				"purpose": {"+905551234567", "123456", "register", salt},
				"salt":    {"+905551234567", "123456", "login", otherSalt},
			}
			for name, in := range variants {
				got, err := h.Digest(in[0], in[1], in[2], in[3])
				require.NoError(t, err)
				assert.NotEqual(t, base, got, "changing %s must change the digest", name)
			}
		})
	}
}

func TestHasher_SecretIsKeyed(t *testing.T) {
	a, err := hashing.NewHasher("secret-a", hashing.AlgorithmHMACSHA256, hashing.DefaultArgon2Params())
	require.NoError(t, err)
	b, err := hashing.NewHasher("secret-b", hashing.AlgorithmHMACSHA256, hashing.DefaultArgon2Params())
	require.NoError(t, err)

	da, err := a.Digest("+905551234567", "123456", "login", "salt")
	require.NoError(t, err)
	db, err := b.Digest("+905551234567", "123456", "login", "salt")
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestHasher_IssueAndVerify(t *testing.T) {
	h, err := hashing.NewHasher("server-secret", hashing.AlgorithmHMACSHA256, hashing.DefaultArgon2Params())
	require.NoError(t, err)

	issued, err := h.Issue("+905551234567", "123456", "login")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Salt)
	assert.Len(t, issued.Hash, 64)
	assert.NotContains(t, issued.Hash, "123456")

	ok, err := h.Verify("+905551234567", "123456", "login", issued)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("+905551234567", "000000", "login", issued)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("+905551234567", "123456", "login", &hashing.HashResult{})
	assert.ErrorIs(t, err, hashing.ErrInvalidHash)
}

func TestHasher_Argon2RejectsMalformedSalt(t *testing.T) {
	h, err := hashing.NewHasher("server-secret", hashing.AlgorithmArgon2id, testArgon2Params())
	require.NoError(t, err)

	_, err = h.Digest("+905551234567", "123456", "login", "not base64!")
	assert.ErrorIs(t, err, hashing.ErrInvalidHash)
}
