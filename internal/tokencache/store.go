package tokencache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/ipclock"
	"github.com/wolfeidau/remotesign/internal/models"
)

const (
	// EntropySize is the length of the random prefix stored ahead of the ciphertext.
	EntropySize = 128

	tokenFile = "token"
	lockFile  = "token.lock"
	keyFile   = "user.key"
)

// ErrTruncated is returned when the cache file is shorter than its entropy prefix.
var ErrTruncated = errors.New("token cache truncated")

// Store persists a single bearer token per user, encrypted at rest and shared
// between processes through a file lock.
type Store struct {
	baseDir   string
	protector Protector
	lock      *ipclock.Lock
}

// DefaultDir returns ~/.remotesign
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".remotesign"), nil
}

// NewStore creates a token store in baseDir, which defaults to ~/.remotesign/.
// A nil protector uses a UserKeyProtector keyed by a file in baseDir.
func NewStore(baseDir string, protector Protector) (*Store, error) {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token cache directory: %w", err)
	}

	if protector == nil {
		protector = NewUserKeyProtector(filepath.Join(baseDir, keyFile))
	}

	log.Debug().Str("baseDir", baseDir).Msg("token store initialized")

	return &Store{
		baseDir:   baseDir,
		protector: protector,
		lock:      ipclock.Named(filepath.Join(baseDir, lockFile)),
	}, nil
}

// Path returns the cache file path.
func (s *Store) Path() string {
	return filepath.Join(s.baseDir, tokenFile)
}

// Lock returns the lock guarding the cache, shared with logins.
func (s *Store) Lock() *ipclock.Lock {
	return s.lock
}

// Load returns the cached token if it was minted for creds. Any failure to read,
// decrypt or parse the cache is logged and reported as no token.
func (s *Store) Load(ctx context.Context, creds models.Credentials) (string, bool) {
	var (
		token string
		found bool
	)

	err := s.lock.Do(ctx, func(ctx context.Context) error {
		log.Debug().Msg("loading token")

		cached, err := s.read()
		if err != nil {
			return err
		}
		if cached == nil {
			log.Info().Msg("token file doesn't exist, not logged in yet")
			return nil
		}

		if !cached.Matches(creds) {
			log.Info().Msg("found a cached token, but the credentials don't match")
			return nil
		}

		log.Info().Msg("found a cached token for current credentials")
		token, found = cached.Token, cached.Token != ""
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("path", s.Path()).Msg("failed to load token file")
		return "", false
	}

	return token, found
}

// Save encrypts the token bound to creds and replaces the cache file.
func (s *Store) Save(ctx context.Context, creds models.Credentials, token string) error {
	return s.lock.Do(ctx, func(ctx context.Context) error {
		log.Debug().Msg("storing token")

		data, err := json.Marshal(models.NewCachedToken(creds, token))
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}

		entropy := make([]byte, EntropySize)
		if _, err := rand.Read(entropy); err != nil {
			return fmt.Errorf("failed to generate entropy: %w", err)
		}

		sealed, err := s.protector.Protect(data, entropy)
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}

		if err := writeAtomic(s.Path(), append(entropy, sealed...)); err != nil {
			return err
		}

		log.Info().Msg("token stored")
		return nil
	})
}

// Clear removes the cache file.
func (s *Store) Clear(ctx context.Context) error {
	return s.lock.Do(ctx, func(ctx context.Context) error {
		if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token file: %w", err)
		}

		log.Info().Str("path", s.Path()).Msg("token cache cleared")
		return nil
	})
}

// read returns nil without error when the file doesn't exist.
func (s *Store) read() (*models.CachedToken, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	if len(data) < EntropySize {
		return nil, ErrTruncated
	}

	plaintext, err := s.protector.Unprotect(data[EntropySize:], data[:EntropySize])
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token file: %w", err)
	}

	var cached models.CachedToken
	if err := json.Unmarshal(plaintext, &cached); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	return &cached, nil
}

// writeAtomic writes to a temp file then renames it over path.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save token file: %w", err)
	}

	return nil
}
