package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T, mode Mode) *Cipher {
	t.Helper()
	c, err := New("chat-secret", mode)
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	inputs := []string{"", "hi", "hello", "exactly sixteen!", "ünïcødé 🚀", string(make([]byte, 1000))}

	for _, mode := range []Mode{ModeRandomIV, ModeFixedIV} {
		c := newCipher(t, mode)
		for _, in := range inputs {
			ct, err := c.Encrypt(in)
			require.NoError(t, err)
			if in != "" {
				assert.NotEqual(t, in, ct)
			}

			out, err := c.Decrypt(ct)
			require.NoError(t, err, "mode %s", mode)
			assert.Equal(t, in, out, "mode %s", mode)
		}
	}
}

func TestCipher_RandomIVIsNotDeterministic(t *testing.T) {
	c := newCipher(t, ModeRandomIV)
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_FixedIVIsDeterministic(t *testing.T) {
	c := newCipher(t, ModeFixedIV)
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Records written by the legacy service: AES-256-CBC, key sha256(secret),
// zero IV, PKCS#7, hex.
func TestCipher_FixedIVMatchesLegacyFormat(t *testing.T) {
	key := sha256.Sum256([]byte("chat-secret"))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	plain := []byte("hello")
	padded := append(plain, make([]byte, 11)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = 11
	}
	want := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(want, padded)

	got, err := newCipher(t, ModeFixedIV).Encrypt("hello")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want), got)
}

func TestCipher_CorruptedByte(t *testing.T) {
	c := newCipher(t, ModeRandomIV)
	ct, err := c.Encrypt("hello")
	require.NoError(t, err)

	raw, err := hex.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01

	_, err = c.Decrypt(hex.EncodeToString(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryption)

	var decErr *DecryptionError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "authentication failed", decErr.Reason)
}

func TestCipher_DecryptFailures(t *testing.T) {
	random := newCipher(t, ModeRandomIV)
	fixed := newCipher(t, ModeFixedIV)

	good, err := random.Encrypt("hello")
	require.NoError(t, err)
	legacy, err := fixed.Encrypt("hello")
	require.NoError(t, err)

	other, err := New("different-secret", ModeRandomIV)
	require.NoError(t, err)

	tests := []struct {
		name string
		c    *Cipher
		in   string
	}{
		{name: "not hex", c: random, in: "zz-not-hex"},
		{name: "truncated gcm", c: random, in: good[:20]},
		{name: "wrong key gcm", c: other, in: good},
		{name: "empty fixed", c: fixed, in: ""},
		{name: "truncated fixed", c: fixed, in: legacy[:len(legacy)-2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.c.Decrypt(tt.in)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("", ModeRandomIV)
	assert.Error(t, err)

	_, err = New("secret", Mode("ecb"))
	assert.Error(t, err)
}
