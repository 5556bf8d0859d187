// Package vault encrypts provider credentials at rest using AES-256-GCM.
// API keys are never written to the database in plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

// Vault seals and opens credential strings with a key derived from the
// configured secret.
type Vault struct {
	key []byte
}

// New derives a 32-byte AES key from the secret. An empty secret is refused
// so a misconfigured deployment fails at startup rather than storing keys
// unprotected.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret is empty")
	}
	key := sha256.Sum256([]byte(secret))
	return &Vault{key: key[:]}, nil
}

// EncryptString seals a plaintext credential and returns it base64-encoded
// for storage in a TEXT column.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a base64-encoded sealed credential.
func (v *Vault) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce := sealed[:gcm.NonceSize()]
	data := sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
