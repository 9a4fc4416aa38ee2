package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashers(t *testing.T) {
	hashers := map[string]Hasher{
		"argon2id": NewArgon2Hasher(),
		"bcrypt":   NewBcryptHasher(bcrypt.MinCost),
	}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			hash, err := h.Hash("correct horse")
			require.NoError(t, err)
			assert.NotEqual(t, "correct horse", hash)

			ok, err := h.Verify("correct horse", hash)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify("wrong horse", hash)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = h.Hash("")
			assert.ErrorIs(t, err, ErrEmptyPassword)
		})
	}
}

func TestArgon2Hasher_SaltsEachHash(t *testing.T) {
	h := NewArgon2Hasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "$argon2id$v=19$m=65536,t=3,p=2$")
}

func TestArgon2Hasher_RejectsMalformed(t *testing.T) {
	h := NewArgon2Hasher()
	for _, bad := range []string{"", "$argon2id$v=19$m=1", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=18$m=1,t=1,p=1$c2FsdA$a2V5"} {
		_, err := h.Verify("pw", bad)
		assert.Error(t, err, bad)
	}
}

func TestManager(t *testing.T) {
	bcryptHash, err := NewBcryptHasher(bcrypt.MinCost).Hash("secret")
	require.NoError(t, err)

	m := NewManager(nil)
	argonHash, err := m.Hash("secret")
	require.NoError(t, err)
	assert.Contains(t, argonHash, "$argon2id$")

	for _, hash := range []string{bcryptHash, argonHash} {
		ok, err := m.Verify("secret", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, err = m.Verify("secret", "plaintext")
	assert.ErrorIs(t, err, ErrUnknownHashType)
}
