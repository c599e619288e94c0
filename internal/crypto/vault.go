package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Vault encrypts at-rest secrets (bank tokens, device credentials) with
// AES-256-GCM. Ciphertexts are nonce-prefixed and non-deterministic; tampering
// fails closed at decryption.
type Vault struct {
	aead cipher.AEAD
}

func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// NewVaultFromHex builds a vault from a hex-encoded 32-byte key. An empty
// string yields an ephemeral random key.
func NewVaultFromHex(hexKey string) (*Vault, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return NewVault(key)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("vault key is not valid hex: %w", err)
	}
	return NewVault(key)
}

func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return v.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (v *Vault) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < v.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:v.aead.NonceSize()], ciphertext[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
