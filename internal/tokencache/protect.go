package tokencache

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const userKeySize = 32

var (
	// ErrInvalidCiphertext is returned when data can't be decrypted with the user key.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidUserKey is returned when the user key file is malformed.
	ErrInvalidUserKey = errors.New("invalid user key")
)

// Protector encrypts data so only the current user can read it back. The entropy
// must be supplied again to decrypt.
type Protector interface {
	Protect(plaintext, entropy []byte) ([]byte, error)
	Unprotect(ciphertext, entropy []byte) ([]byte, error)
}

var _ Protector = (*UserKeyProtector)(nil)

// UserKeyProtector derives a per-message key from a random user key kept in a
// 0600 file and the caller's entropy, then seals with XChaCha20-Poly1305.
type UserKeyProtector struct {
	keyPath string
}

// NewUserKeyProtector creates a protector backed by the key file at keyPath.
// The key is generated on first use.
func NewUserKeyProtector(keyPath string) *UserKeyProtector {
	return &UserKeyProtector{keyPath: keyPath}
}

func (p *UserKeyProtector) Protect(plaintext, entropy []byte) ([]byte, error) {
	aead, err := p.aead(entropy, true)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *UserKeyProtector) Unprotect(ciphertext, entropy []byte) ([]byte, error) {
	aead, err := p.aead(entropy, false)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return plaintext, nil
}

func (p *UserKeyProtector) aead(entropy []byte, create bool) (cipher.AEAD, error) {
	userKey, err := p.userKey(create)
	if err != nil {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, userKey, entropy, []byte("remotesign token cache"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return chacha20poly1305.NewX(key)
}

func (p *UserKeyProtector) userKey(create bool) ([]byte, error) {
	key, err := os.ReadFile(p.keyPath)
	if err == nil {
		if len(key) != userKeySize {
			return nil, ErrInvalidUserKey
		}
		return key, nil
	}
	if !os.IsNotExist(err) || !create {
		return nil, fmt.Errorf("failed to read user key: %w", err)
	}

	key = make([]byte, userKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate user key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write user key: %w", err)
	}

	log.Debug().Str("path", p.keyPath).Msg("generated user key")

	return key, nil
}
