// Package secrets implements the encrypted per-project credential vault.
//
// Values are encrypted with AES-256-GCM using a 96-bit random IV and a
// 128-bit auth tag, stored hex encoded. The master key is sourced once at
// startup from SECRETS_ENCRYPTION_KEY and must be exactly 64 hex characters.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

const (
	// MasterKeyEnv names the environment variable holding the master key.
	MasterKeyEnv = "SECRETS_ENCRYPTION_KEY"

	ivSize  = 12 // 96-bit IV
	tagSize = 16 // 128-bit auth tag
	keySize = 32 // AES-256
)

// Cipher performs AES-256-GCM encryption for the vault.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, nexuserr.Newf(nexuserr.CodeConfig, "master key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeConfig, "create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeConfig, "create GCM", err)
	}
	return &Cipher{aead: aead}, nil
}

// CipherFromEnv loads the master key from MasterKeyEnv. Startup fails loudly
// if the variable is missing or not exactly 64 hex characters.
func CipherFromEnv() (*Cipher, error) {
	raw := os.Getenv(MasterKeyEnv)
	if raw == "" {
		return nil, nexuserr.Newf(nexuserr.CodeConfig, "%s is not set", MasterKeyEnv)
	}
	if len(raw) != keySize*2 {
		return nil, nexuserr.Newf(nexuserr.CodeConfig, "%s must be exactly %d hex characters, got %d", MasterKeyEnv, keySize*2, len(raw))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeConfig, fmt.Sprintf("%s is not valid hex", MasterKeyEnv), err)
	}
	return NewCipher(key)
}

// Sealed is an encrypted value split into its stored parts, each hex encoded.
type Sealed struct {
	Ciphertext string
	IV         string
	AuthTag    string
}

// Encrypt seals a plaintext. Every call draws a fresh random IV, so two
// encryptions of the same plaintext produce different ciphertexts.
func (c *Cipher) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, nexuserr.Wrap(nexuserr.CodeInternal, "generate IV", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	// GCM appends the tag to the ciphertext; store it separately.
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return Sealed{
		Ciphertext: hex.EncodeToString(ct),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(tag),
	}, nil
}

// Decrypt opens a sealed value. Any modification of the ciphertext, IV, or
// auth tag fails with SECRET_DECRYPT_FAILED.
func (c *Cipher) Decrypt(s Sealed) (string, error) {
	ct, err := hex.DecodeString(s.Ciphertext)
	if err != nil {
		return "", nexuserr.New(nexuserr.CodeSecretDecryptFailed, "ciphertext is not valid hex")
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil || len(iv) != ivSize {
		return "", nexuserr.New(nexuserr.CodeSecretDecryptFailed, "invalid IV")
	}
	tag, err := hex.DecodeString(s.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", nexuserr.New(nexuserr.CodeSecretDecryptFailed, "invalid auth tag")
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", nexuserr.New(nexuserr.CodeSecretDecryptFailed, "authentication failed")
	}
	return string(plaintext), nil
}
