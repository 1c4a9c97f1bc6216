// Package crypto provides encryption utilities for Infisical.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the size of the AES-GCM nonce (12 bytes standard).
	NonceSize = 12

	// KeySize is the size of the AES-256 key (32 bytes).
	KeySize = 32

	// TagSize is the size of the GCM authentication tag (16 bytes).
	TagSize = 16
)

var (
	// ErrInvalidKeySize indicates the encryption key is not the correct size.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the encrypted fields are malformed or
	// sized inconsistently with a single encryption call.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed indicates authentication-tag verification failed:
	// the ciphertext was tampered with, corrupted, or encrypted under a
	// different key. No plaintext is ever returned alongside this error.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedSecret is the output of a single authenticated encryption call.
// All three fields must be presented together on decrypt; mixing fields from
// different encryption calls fails tag verification.
type EncryptedSecret struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// KeyManager performs authenticated encryption of short secrets (license
// keys) under a process-wide key loaded once at startup.
type KeyManager struct {
	masterKey []byte
}

// NewKeyManager creates a new KeyManager with the given master key.
// The master key must be exactly 32 bytes (256 bits) for AES-256.
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &KeyManager{masterKey: masterKey}, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under the master key. A fresh
// nonce is drawn from crypto/rand on every call; the nonce and the
// authentication tag are returned separately from the ciphertext so each can
// be persisted as its own column.
func (km *KeyManager) Encrypt(plaintext []byte) (*EncryptedSecret, error) {
	gcm, err := km.newGCM()
	if err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends the tag to the ciphertext; split it back out.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	boundary := len(sealed) - TagSize

	return &EncryptedSecret{
		Ciphertext: sealed[:boundary],
		IV:         iv,
		AuthTag:    sealed[boundary:],
	}, nil
}

// Decrypt decrypts an EncryptedSecret produced by Encrypt. It fails with
// ErrDecryptionFailed if the authentication tag does not verify.
func (km *KeyManager) Decrypt(secret *EncryptedSecret) ([]byte, error) {
	if secret == nil || len(secret.IV) != NonceSize || len(secret.AuthTag) != TagSize {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := km.newGCM()
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(secret.Ciphertext)+TagSize)
	sealed = append(sealed, secret.Ciphertext...)
	sealed = append(sealed, secret.AuthTag...)

	plaintext, err := gcm.Open(nil, secret.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts a string and returns the base64-encoded triple for
// persistence.
func (km *KeyManager) EncryptString(plaintext string) (ciphertext, iv, authTag string, err error) {
	secret, err := km.Encrypt([]byte(plaintext))
	if err != nil {
		return "", "", "", err
	}
	return base64.StdEncoding.EncodeToString(secret.Ciphertext),
		base64.StdEncoding.EncodeToString(secret.IV),
		base64.StdEncoding.EncodeToString(secret.AuthTag),
		nil
}

// DecryptString decrypts a base64-encoded triple produced by EncryptString.
func (km *KeyManager) DecryptString(ciphertext, iv, authTag string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(authTag)
	if err != nil {
		return "", fmt.Errorf("decode auth tag: %w", err)
	}

	plaintext, err := km.Decrypt(&EncryptedSecret{Ciphertext: ct, IV: nonce, AuthTag: tag})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (km *KeyManager) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(km.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateMasterKey generates a new random master key for use with
// NewKeyManager. This should be done once during initial server setup and
// stored securely.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromHex decodes a hex-encoded master key.
func MasterKeyFromHex(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64-encoded master key.
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}
