package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfSaltLen = 16
	hkdfInfo    = "merchant-gateway"
)

// AESEncryptionService implements ports.EncryptionService using AES-256-GCM.
// Each ciphertext uses its own key, derived from the master key with
// HKDF-SHA256 and a random salt.
type AESEncryptionService struct {
	masterKey []byte
}

// NewAESEncryptionService creates a new AES-256-GCM encryption service.
// hexKey must be a 64-character hex string (32 bytes decoded).
func NewAESEncryptionService(hexKey string) (*AESEncryptionService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding AES key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("AES key must be 32 bytes, got %d", len(key))
	}
	return &AESEncryptionService{masterKey: key}, nil
}

// Encrypt returns hex(salt || nonce || ciphertext).
func (s *AESEncryptionService) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, hkdfSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	aesGCM, err := s.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aesGCM.Overhead())
	out = append(out, salt...)
	out = aesGCM.Seal(append(out, nonce...), nonce, []byte(plaintext), nil)
	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (s *AESEncryptionService) Decrypt(ciphertextHex string) (string, error) {
	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < hkdfSaltLen {
		return "", fmt.Errorf("ciphertext too short")
	}

	salt, rest := raw[:hkdfSaltLen], raw[hkdfSaltLen:]
	aesGCM, err := s.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plaintext), nil
}

func (s *AESEncryptionService) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.masterKey, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesGCM, nil
}
