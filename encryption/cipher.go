// Package encryption encrypts chat message bodies at rest.
//
// Two modes are supported. ModeRandomIV (the default) seals each message with
// AES-256-GCM under a fresh nonce that is stored in front of the ciphertext.
// ModeFixedIV reproduces the legacy AES-256-CBC scheme with an all-zero IV so
// that records written by earlier deployments stay readable; identical
// plaintexts encrypt to identical ciphertexts in that mode.
//
// In both modes the key is sha256(secret) and ciphertexts are hex encoded.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

type Mode string

const (
	ModeRandomIV Mode = "random-iv"
	ModeFixedIV  Mode = "fixed-iv"
)

// ErrDecryption matches every *DecryptionError via errors.Is.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports a ciphertext that is truncated, corrupted or was
// produced under a different key.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Cipher is safe for concurrent use.
type Cipher struct {
	mode  Mode
	block cipher.Block
	aead  cipher.AEAD
	rand  io.Reader
}

// New derives the process key from secret and returns a Cipher for mode.
func New(secret string, mode Mode) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}

	c := &Cipher{mode: mode, block: block, rand: rand.Reader}
	switch mode {
	case ModeRandomIV:
		c.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
	case ModeFixedIV:
	default:
		return nil, fmt.Errorf("unknown encryption mode %q", mode)
	}
	return c, nil
}

func (c *Cipher) Mode() Mode { return c.mode }

// Encrypt returns the hex-encoded ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c.mode == ModeFixedIV {
		return c.encryptCBC([]byte(plaintext)), nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure is a *DecryptionError.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid encoding", Err: err}
	}
	if c.mode == ModeFixedIV {
		return c.decryptCBC(raw)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", &DecryptionError{Reason: "ciphertext truncated"}
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

func (c *Cipher) encryptCBC(plain []byte) string {
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, zeroIV()).CryptBlocks(out, padded)
	return hex.EncodeToString(out)
}

func (c *Cipher) decryptCBC(raw []byte) (string, error) {
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: "ciphertext truncated"}
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, zeroIV()).CryptBlocks(out, raw)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", &DecryptionError{Reason: "bad padding", Err: err}
	}
	return string(plain), nil
}

func zeroIV() []byte { return make([]byte, aes.BlockSize) }

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding length")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return b[:len(b)-n], nil
}
