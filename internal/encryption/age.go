package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"wpsync/internal/config"
	"wpsync/internal/wp"
)

// ErrNotConfigured is returned when the identity file has not been generated yet.
var ErrNotConfigured = errors.New("encryption key not configured")

// AgeSealer implements wp.TokenSealer using filippo.io/age with an X25519
// identity. Tokens are encrypted to the identity's own recipient, so the
// identity file is the only secret and is written with mode 0600.
type AgeSealer struct {
	keyPath string

	mu       sync.Mutex
	identity *age.X25519Identity
}

var _ wp.TokenSealer = (*AgeSealer)(nil)

// NewAgeSealer creates a new AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig) *AgeSealer {
	return &AgeSealer{keyPath: cfg.KeyPath}
}

// Setup generates a new X25519 identity and writes it to the key path.
// An existing identity is never overwritten.
func (s *AgeSealer) Setup() error {
	if s.IsConfigured() {
		return fmt.Errorf("key file already exists at %s", s.keyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	contents := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(s.keyPath, []byte(contents), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return nil
}

// IsConfigured returns true if the key file exists.
func (s *AgeSealer) IsConfigured() bool {
	_, err := os.Stat(s.keyPath)
	return err == nil
}

// Seal encrypts plaintext to the identity's recipient.
func (s *AgeSealer) Seal(plaintext string) ([]byte, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return nil, fmt.Errorf("encrypting token: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a value produced by Seal.
func (s *AgeSealer) Open(sealed []byte) (string, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return "", fmt.Errorf("loading key: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return "", fmt.Errorf("creating decrypted reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	return string(plaintext), nil
}

// loadIdentity reads the identity from disk once and caches it.
func (s *AgeSealer) loadIdentity() (*age.X25519Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil {
		return s.identity, nil
	}

	data, err := os.ReadFile(s.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			s.identity = x
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", s.keyPath)
}
