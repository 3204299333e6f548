package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const minSealedLen = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead // 40 bytes minimum

// ParseMasterKey decodes a 64-hex-character master key.
func ParseMasterKey(v string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(v))
	if err != nil {
		return key, fmt.Errorf("master key must be hex: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("master key must be %d bytes (%d hex chars), got %d bytes", len(key), 2*len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under masterKey. aad is
// authenticated but not stored; Open must be given the same value.
// Output format: nonce(24) || ciphertext+tag
func Seal(masterKey [32]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal.
func Open(masterKey [32]byte, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < minSealedLen {
		return nil, errors.New("sealed data too short")
	}
	aead, err := chacha20poly1305.NewX(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}

	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}
